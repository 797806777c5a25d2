package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// ErrReadOnly is returned for writes while the stack is not READ_WRITE.
var ErrReadOnly = errors.New("stack is not accepting writes")

// ErrDown is returned for any row access while the stack is DOWN.
var ErrDown = errors.New("stack is down")

// PutRowRequest is the body of a row write.
type PutRowRequest struct {
	ParentID *int64          `json:"parentId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// rowAPI serves the public row endpoints, enforcing the stack status.
type rowAPI struct {
	stack *Stack
	cfg   *ServerConfig
}

// checkAccess returns ErrDown or ErrReadOnly when the stack status forbids the access.
func (ra *rowAPI) checkAccess(ctx context.Context, write bool) error {
	status, err := ra.stack.Jobs.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("get stack status: %w", err)
	}
	switch {
	case status.Status == models.StatusDown:
		return fmt.Errorf("%w: %s", ErrDown, status.CurrentMessage)
	case write && status.Status != models.StatusReadWrite:
		return fmt.Errorf("%w: %s", ErrReadOnly, status.CurrentMessage)
	}
	return nil
}

func (ra *rowAPI) guard(w http.ResponseWriter, r *http.Request, write bool) bool {
	err := ra.checkAccess(r.Context(), write)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrDown):
		writeError(w, http.StatusServiceUnavailable, "stack_down", err.Error())
	case errors.Is(err, ErrReadOnly):
		writeError(w, http.StatusServiceUnavailable, "read_only", err.Error())
	default:
		writeStoreError(w, err)
	}
	return false
}

func rowPath(r *http.Request) (models.MigrationType, int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid row id %q", r.PathValue("id"))
	}
	return models.MigrationType(r.PathValue("type")), id, nil
}

func (ra *rowAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	t, id, err := rowPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !ra.guard(w, r, false) {
		return
	}

	row, err := ra.stack.Rows.GetRow(r.Context(), t, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (ra *rowAPI) handlePut(w http.ResponseWriter, r *http.Request) {
	t, id, err := rowPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req PutRowRequest
	if err := readJSON(r, ra.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !ra.guard(w, r, true) {
		return
	}

	row, err := ra.stack.Rows.PutRow(r.Context(), t, id, req.ParentID, req.Data)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (ra *rowAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	t, id, err := rowPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !ra.guard(w, r, true) {
		return
	}

	n, err := ra.stack.Rows.DeleteRows(r.Context(), t, []int64{id})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s row %d not found", t, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
