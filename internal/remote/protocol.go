// Package remote defines the admin API protocol and clients for talking to a stack.
package remote

import (
	"github.com/kilupskalvis/stackmig/internal/models"
)

// MigrationTypesResponse lists the migration types of a stack in dependency order.
type MigrationTypesResponse struct {
	List []models.MigrationType `json:"list"`
}

// TypeCountsResponse lists the counts of every migration type.
type TypeCountsResponse struct {
	List []*models.TypeCount `json:"list"`
}

// IDListRequest names a batch of rows of one type, used for backup and delete.
type IDListRequest struct {
	Type models.MigrationType `json:"type"`
	IDs  []int64              `json:"ids"`
}

// RestoreRequest starts a restore of a backup artifact into a type.
type RestoreRequest struct {
	Type      models.MigrationType `json:"type"`
	BackupURL string               `json:"backupUrl"`
}

// FireChangesRequest asks a stack to re-send change messages from StartNumber.
type FireChangesRequest struct {
	StartNumber int64 `json:"startNumber"`
	Limit       int64 `json:"limit"`
}

// ErrorResponse is the structured error format returned by a stack.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}
