package models

// StatusType is the availability of a stack.
type StatusType string

const (
	StatusReadWrite StatusType = "READ_WRITE"
	StatusReadOnly  StatusType = "READ_ONLY"
	StatusDown      StatusType = "DOWN"
)

// Valid reports whether s is a known status.
func (s StatusType) Valid() bool {
	switch s {
	case StatusReadWrite, StatusReadOnly, StatusDown:
		return true
	}
	return false
}

// StackStatus is the process-wide status of a stack, owned by the stack itself.
type StackStatus struct {
	Status         StatusType `json:"status"`
	CurrentMessage string     `json:"currentMessage,omitempty"`
}

// ChangeNumber is the change-log cursor of a stack. -1 means no more changes.
type ChangeNumber struct {
	NextChangeNumber int64 `json:"nextChangeNumber"`
}

// ChangesExhausted is the NextChangeNumber value returned once every change has been fired.
const ChangesExhausted int64 = -1
