package models

import "fmt"

// DeltaCounts summarizes one delta computation.
type DeltaCounts struct {
	Create int64 `json:"create"`
	Update int64 `json:"update"`
	Delete int64 `json:"delete"`
}

// Add returns the element-wise sum of c and other.
func (c DeltaCounts) Add(other DeltaCounts) DeltaCounts {
	return DeltaCounts{
		Create: c.Create + other.Create,
		Update: c.Update + other.Update,
		Delete: c.Delete + other.Delete,
	}
}

// Total returns the number of row-level differences.
func (c DeltaCounts) Total() int64 {
	return c.Create + c.Update + c.Delete
}

func (c DeltaCounts) String() string {
	return fmt.Sprintf("create=%d update=%d delete=%d", c.Create, c.Update, c.Delete)
}
