// Package models defines the value types exchanged with a stack's admin API.
package models

import "strconv"

// MigrationType identifies one migratable table on a stack.
type MigrationType string

// RowMetadata is the unit of comparison between two stacks.
// A nil Etag marks a row without version information.
type RowMetadata struct {
	ID       int64   `json:"id"`
	Etag     *string `json:"etag,omitempty"`
	ParentID *int64  `json:"parentId,omitempty"`
}

// NewRowMetadata builds a RowMetadata with the given etag.
func NewRowMetadata(id int64, etag string) *RowMetadata {
	return &RowMetadata{ID: id, Etag: &etag}
}

// EtagString returns the etag or "" when absent.
func (r *RowMetadata) EtagString() string {
	if r == nil || r.Etag == nil {
		return ""
	}
	return *r.Etag
}

// SameEtag reports whether both rows carry the same etag.
// Two absent etags are equal.
func (r *RowMetadata) SameEtag(other *RowMetadata) bool {
	switch {
	case r.Etag == nil && other.Etag == nil:
		return true
	case r.Etag == nil || other.Etag == nil:
		return false
	}
	return *r.Etag == *other.Etag
}

// ChecksumKey returns the string fed to range checksums: "id@etag", or "id" without an etag.
func (r *RowMetadata) ChecksumKey() string {
	id := strconv.FormatInt(r.ID, 10)
	if r.Etag == nil {
		return id
	}
	return id + "@" + *r.Etag
}

// RowMetadataResult is one page of row metadata.
type RowMetadataResult struct {
	List       []*RowMetadata `json:"list"`
	TotalCount int64          `json:"totalCount"`
}

// TypeCount describes the population of a migration type on one stack.
// MinID and MaxID are only meaningful when Count > 0.
type TypeCount struct {
	Type  MigrationType `json:"type"`
	Count int64         `json:"count"`
	MinID int64         `json:"minId"`
	MaxID int64         `json:"maxId"`
}

// Empty reports whether the type holds no rows.
func (c *TypeCount) Empty() bool {
	return c == nil || c.Count == 0
}

// DeleteResult is returned by a bulk delete.
type DeleteResult struct {
	Count int64 `json:"count"`
}
