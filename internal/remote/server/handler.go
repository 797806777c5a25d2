package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kilupskalvis/stackmig/internal/metrics"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/kilupskalvis/stackmig/internal/remote/blobstore"
	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
)

// Stack bundles the stores behind one stack server.
type Stack struct {
	Rows  metastore.RowStore
	Jobs  metastore.JobStore
	Blobs blobstore.BlobStore
}

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64   // bytes, for JSON endpoints
	MaxPageSize       int64   // upper bound for rangerows limit
	RequestsPerSecond float64 // per-client limit on the row API, 0 disables
	RateBurst         int
	AdminToken        string // for admin endpoints, empty leaves them open
	GCMinAge          time.Duration
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    64 * 1024 * 1024, // 64MB
		MaxPageSize:       10000,
		RequestsPerSecond: 50,
		RateBurst:         100,
		GCMinAge:          time.Hour,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and waits for
// running jobs; it should be called on server shutdown.
func Handler(stack *Stack, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerSecond, cfg.RateBurst)
	runner := NewJobRunner(stack, logger)
	a := &adminAPI{stack: stack, cfg: cfg, runner: runner, logger: logger}
	rows := &rowAPI{stack: stack, cfg: cfg}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := stack.Jobs.GetStatus(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: job store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// Admin endpoints
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /admin/migration/types", a.handleTypes)
	adminMux.HandleFunc("GET /admin/migration/count", a.handleCount)
	adminMux.HandleFunc("GET /admin/migration/counts", a.handleCounts)
	adminMux.HandleFunc("GET /admin/migration/rangerows", a.handleRangeRows)
	adminMux.HandleFunc("GET /admin/migration/rangechecksum", a.handleRangeChecksum)
	adminMux.HandleFunc("POST /admin/migration/backup", a.handleStartBackup)
	adminMux.HandleFunc("POST /admin/migration/restore", a.handleStartRestore)
	adminMux.HandleFunc("GET /admin/migration/jobs/{id}", a.handleGetJob)
	adminMux.HandleFunc("POST /admin/migration/delete", a.handleDelete)
	adminMux.HandleFunc("GET /admin/status", a.handleGetStatus)
	adminMux.HandleFunc("PUT /admin/status", a.handleSetStatus)
	adminMux.HandleFunc("GET /admin/changes/current", a.handleCurrentChange)
	adminMux.HandleFunc("POST /admin/changes/fire", a.handleFireChanges)
	adminMux.HandleFunc("POST /admin/backups/gc", a.handleGC)
	if cfg.AdminToken != "" {
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	} else {
		mux.Handle("/admin/", adminMux)
	}

	// Public row API
	mux.Handle("GET /api/v1/rows/{type}/{id}", rl.middleware(http.HandlerFunc(rows.handleGet)))
	mux.Handle("PUT /api/v1/rows/{type}/{id}", rl.middleware(http.HandlerFunc(rows.handlePut)))
	mux.Handle("DELETE /api/v1/rows/{type}/{id}", rl.middleware(http.HandlerFunc(rows.handleDelete)))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		metricsMiddleware,
		requestIDMiddleware,
	)

	cleanup := func() {
		rl.Stop()
		runner.Wait()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// adminAPI serves the migration admin endpoints of one stack.
type adminAPI struct {
	stack  *Stack
	cfg    *ServerConfig
	runner *JobRunner
	logger *slog.Logger
}

// --- Migration Handlers ---

func (a *adminAPI) handleTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &remote.MigrationTypesResponse{List: a.stack.Rows.Types()})
}

func (a *adminAPI) handleCount(w http.ResponseWriter, r *http.Request) {
	t := models.MigrationType(r.URL.Query().Get("type"))
	if t == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "type is required")
		return
	}
	count, err := a.stack.Rows.TypeCount(r.Context(), t)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}

func (a *adminAPI) handleCounts(w http.ResponseWriter, r *http.Request) {
	resp := &remote.TypeCountsResponse{}
	for _, t := range a.stack.Rows.Types() {
		count, err := a.stack.Rows.TypeCount(r.Context(), t)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		resp.List = append(resp.List, count)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *adminAPI) handleRangeRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := models.MigrationType(q.Get("type"))
	minID, maxID, err := parseRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := parseInt64(q, "limit", 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	offset, err := parseInt64(q, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if limit <= 0 || limit > a.cfg.MaxPageSize || offset < 0 {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("limit must be in [1, %d] and offset non-negative", a.cfg.MaxPageSize))
		return
	}

	list, total, err := a.stack.Rows.RowRange(r.Context(), t, minID, maxID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*models.RowMetadata{}
	}
	writeJSON(w, http.StatusOK, &models.RowMetadataResult{List: list, TotalCount: total})
}

func (a *adminAPI) handleRangeChecksum(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := models.MigrationType(q.Get("type"))
	minID, maxID, err := parseRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	sum, err := a.stack.Rows.Checksum(r.Context(), t, q.Get("salt"), minID, maxID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &models.MigrationRangeChecksum{Type: t, MinID: minID, MaxID: maxID, Checksum: sum})
}

func (a *adminAPI) handleStartBackup(w http.ResponseWriter, r *http.Request) {
	var req remote.IDListRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !a.knownType(w, req.Type) {
		return
	}

	job, err := a.runner.StartBackup(r.Context(), req.Type, req.IDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *adminAPI) handleStartRestore(w http.ResponseWriter, r *http.Request) {
	var req remote.RestoreRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !a.knownType(w, req.Type) {
		return
	}

	job, err := a.runner.StartRestore(r.Context(), req.Type, req.BackupURL)
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		writeError(w, http.StatusNotFound, "not_found", "backup "+req.BackupURL+" not found")
	case errors.Is(err, blobstore.ErrInvalidURL), errors.Is(err, ErrTypeMismatch):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case err != nil:
		writeStoreError(w, err)
	default:
		writeJSON(w, http.StatusAccepted, job)
	}
}

func (a *adminAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.stack.Jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *adminAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req remote.IDListRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	n, err := a.stack.Rows.DeleteRows(r.Context(), req.Type, req.IDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &models.DeleteResult{Count: n})
}

func (a *adminAPI) knownType(w http.ResponseWriter, t models.MigrationType) bool {
	for _, known := range a.stack.Rows.Types() {
		if known == t {
			return true
		}
	}
	writeStoreError(w, fmt.Errorf("%w: %q", metastore.ErrUnknownType, t))
	return false
}

// --- Status Handlers ---

func (a *adminAPI) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.stack.Jobs.GetStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *adminAPI) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StackStatus
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	if err := a.stack.Jobs.SetStatus(r.Context(), &req); err != nil {
		writeStoreError(w, err)
		return
	}
	a.logger.Info("stack status changed", "status", req.Status, "message", req.CurrentMessage)
	writeJSON(w, http.StatusOK, &req)
}

// --- Change Handlers ---

func (a *adminAPI) handleCurrentChange(w http.ResponseWriter, r *http.Request) {
	next, err := a.stack.Rows.NextChangeNumber(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &models.ChangeNumber{NextChangeNumber: next})
}

func (a *adminAPI) handleFireChanges(w http.ResponseWriter, r *http.Request) {
	var req remote.FireChangesRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Limit <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be positive")
		return
	}

	// One extra change tells whether anything is left after this batch.
	changes, err := a.stack.Rows.Changes(r.Context(), req.StartNumber, req.Limit+1)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	next := models.ChangesExhausted
	if int64(len(changes)) > req.Limit {
		next = changes[req.Limit].Number
		changes = changes[:req.Limit]
	}

	if err := a.cfg.Webhooks.NotifyChanges(r.Context(), changes); err != nil {
		writeError(w, http.StatusBadGateway, "delivery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &models.ChangeNumber{NextChangeNumber: next})
}

// --- Backup Handlers ---

func (a *adminAPI) handleGC(w http.ResponseWriter, r *http.Request) {
	olderThan := a.cfg.GCMinAge
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid olderThan: "+err.Error())
			return
		}
		olderThan = d
	}

	result, err := GarbageCollect(r.Context(), a.stack.Jobs, a.stack.Blobs, olderThan, a.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}

// writeStoreError maps store sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, metastore.ErrUnknownType):
		writeError(w, http.StatusNotFound, "unknown_type", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func parseInt64(q url.Values, name string, def int64) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func parseRange(q url.Values) (int64, int64, error) {
	minID, err := parseInt64(q, "minId", 0)
	if err != nil {
		return 0, 0, err
	}
	maxID, err := parseInt64(q, "maxId", 0)
	if err != nil {
		return 0, 0, err
	}
	if q.Get("minId") == "" || q.Get("maxId") == "" {
		return 0, 0, errors.New("minId and maxId are required")
	}
	return minID, maxID, nil
}
