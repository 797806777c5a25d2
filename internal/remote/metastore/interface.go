// Package metastore provides the server-side storage of a stack: its rows,
// its change log, its async jobs and its availability status.
package metastore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnknownType = errors.New("unknown migration type")
)

// Row is a complete stored row. Data is opaque to the store.
type Row struct {
	ID       int64           `json:"id"`
	Etag     string          `json:"etag"`
	ParentID *int64          `json:"parentId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Metadata returns the comparable part of r.
func (r *Row) Metadata() *models.RowMetadata {
	return &models.RowMetadata{ID: r.ID, Etag: &r.Etag, ParentID: r.ParentID}
}

// ChangeOp is the kind of a change log entry.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "UPSERT"
	ChangeDelete ChangeOp = "DELETE"
)

// Change is one entry of the change log.
type Change struct {
	Number int64                `json:"number"`
	Type   models.MigrationType `json:"type"`
	RowID  int64                `json:"rowId"`
	Op     ChangeOp             `json:"op"`
	Etag   string               `json:"etag,omitempty"`
}

// RowStore defines the contract for row persistence. Every mutation appends to the change log.
type RowStore interface {
	// Types returns the configured migration types in dependency order.
	Types() []models.MigrationType

	TypeCount(ctx context.Context, t models.MigrationType) (*models.TypeCount, error)
	// RowRange returns up to limit rows of t with id in [minID, maxID] ordered by id, and the total in range.
	RowRange(ctx context.Context, t models.MigrationType, minID, maxID, limit, offset int64) ([]*models.RowMetadata, int64, error)
	// Checksum fingerprints the rows of t in [minID, maxID] with the given salt.
	Checksum(ctx context.Context, t models.MigrationType, salt string, minID, maxID int64) (string, error)

	GetRow(ctx context.Context, t models.MigrationType, id int64) (*Row, error)
	// PutRow stores data under id with a fresh etag.
	PutRow(ctx context.Context, t models.MigrationType, id int64, parentID *int64, data json.RawMessage) (*Row, error)
	// DeleteRows removes the given ids; missing ids are ignored. Returns the number removed.
	DeleteRows(ctx context.Context, t models.MigrationType, ids []int64) (int64, error)

	// ExportRows returns the stored rows among ids, ordered by id.
	ExportRows(ctx context.Context, t models.MigrationType, ids []int64) ([]*Row, error)
	// ImportRows upserts rows keeping their etags.
	ImportRows(ctx context.Context, t models.MigrationType, rows []*Row) error

	// NextChangeNumber returns the number the next change will get.
	NextChangeNumber(ctx context.Context) (int64, error)
	// Changes returns up to limit changes numbered start and above.
	Changes(ctx context.Context, start, limit int64) ([]*Change, error)

	Close() error
}

// JobStore defines the contract for async job and stack status persistence.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.BackupRestoreStatus) error
	// GetJob returns ErrNotFound if the job does not exist.
	GetJob(ctx context.Context, id string) (*models.BackupRestoreStatus, error)
	ListJobs(ctx context.Context) ([]*models.BackupRestoreStatus, error)

	// GetStatus returns the stored stack status, READ_WRITE when never set.
	GetStatus(ctx context.Context) (*models.StackStatus, error)
	SetStatus(ctx context.Context, status *models.StackStatus) error

	Close() error
}
