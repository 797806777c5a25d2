package models

import "time"

// RangeMismatch is a sub-range whose checksums differ between source and destination.
type RangeMismatch struct {
	MinID       int64  `json:"min_id"`
	MaxID       int64  `json:"max_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// TypeResult is the outcome of migrating one type. Attempts counts pass
// attempts across the delete and copy passes.
type TypeResult struct {
	Type               MigrationType   `json:"type"`
	Counts             DeltaCounts     `json:"counts"`
	Attempts           int             `json:"attempts"`
	ChecksumVerified   bool            `json:"checksum_verified"`
	ChecksumMismatches []RangeMismatch `json:"checksum_mismatches,omitempty"`
	Error              string          `json:"error,omitempty"`
}

// Failed reports whether the type exhausted its retries.
func (r *TypeResult) Failed() bool {
	return r.Error != ""
}

// RunResult is the outcome of one migration run.
type RunResult struct {
	ID            string        `json:"id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	DeleteOnly    bool          `json:"delete_only"`
	Types         []*TypeResult `json:"types"`
	ReplayBatches int64         `json:"replay_batches"`
}

// Totals returns the summed delta counts over all types.
func (r *RunResult) Totals() DeltaCounts {
	var total DeltaCounts
	for _, t := range r.Types {
		total = total.Add(t.Counts)
	}
	return total
}

// Succeeded reports whether every type migrated and verified cleanly.
func (r *RunResult) Succeeded() bool {
	for _, t := range r.Types {
		if t.Failed() || len(t.ChecksumMismatches) > 0 {
			return false
		}
	}
	return true
}

// ResultFor returns the result for t, creating it if needed.
func (r *RunResult) ResultFor(t MigrationType) *TypeResult {
	for _, tr := range r.Types {
		if tr.Type == t {
			return tr
		}
	}
	tr := &TypeResult{Type: t}
	r.Types = append(r.Types, tr)
	return tr
}
