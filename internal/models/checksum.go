package models

// MigrationRangeChecksum fingerprints every (id, etag) pair of a type in [MinID, MaxID] on one stack.
type MigrationRangeChecksum struct {
	Type     MigrationType `json:"type"`
	MinID    int64         `json:"minId"`
	MaxID    int64         `json:"maxId"`
	Checksum string        `json:"checksum"`
}
