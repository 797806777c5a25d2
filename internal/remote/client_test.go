package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewHTTPClient(ts.URL+"/", "secret", 0)
}

func TestHTTPClient_GetRowMetadataByRange(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/admin/migration/rangerows", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "NODE", q.Get("type"))
		assert.Equal(t, "10", q.Get("minId"))
		assert.Equal(t, "99", q.Get("maxId"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "15", q.Get("offset"))

		json.NewEncoder(w).Encode(&models.RowMetadataResult{
			List:       []*models.RowMetadata{models.NewRowMetadata(11, "a"), {ID: 12}},
			TotalCount: 2,
		})
	})

	page, err := client.GetRowMetadataByRange(context.Background(), "NODE", 10, 99, 5, 15)
	require.NoError(t, err)
	require.Len(t, page.List, 2)
	assert.Equal(t, int64(11), page.List[0].ID)
	assert.Equal(t, "a", page.List[0].EtagString())
	assert.Nil(t, page.List[1].Etag)
	assert.Equal(t, int64(2), page.TotalCount)
}

func TestHTTPClient_StartBackup(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/admin/migration/backup", r.URL.Path)
		var req IDListRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.MigrationType("NODE"), req.Type)
		assert.Equal(t, []int64{1, 2, 3}, req.IDs)

		json.NewEncoder(w).Encode(&models.BackupRestoreStatus{ID: "j1", Type: models.JobBackup, Status: models.JobStarted})
	})

	job, err := client.StartBackup(context.Background(), "NODE", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, models.JobStarted, job.Status)
}

func TestHTTPClient_UpdateCurrentStackStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/admin/status", r.URL.Path)
		var s models.StackStatus
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		json.NewEncoder(w).Encode(&s)
	})

	got, err := client.UpdateCurrentStackStatus(context.Background(), &models.StackStatus{Status: models.StatusReadOnly, CurrentMessage: "migrating"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadOnly, got.Status)
	assert.Equal(t, "migrating", got.CurrentMessage)
}

func TestHTTPClient_FireChangeMessages(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/changes/fire", r.URL.Path)
		var req FireChangesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(7), req.StartNumber)
		assert.Equal(t, int64(100), req.Limit)
		json.NewEncoder(w).Encode(&models.ChangeNumber{NextChangeNumber: -1})
	})

	cn, err := client.FireChangeMessages(context.Background(), 7, 100)
	require.NoError(t, err)
	assert.Equal(t, models.ChangesExhausted, cn.NextChangeNumber)
}

func TestHTTPClient_StructuredError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(&ErrorResponse{Error: "not_found", Message: "job not found"})
	})

	_, err := client.GetStatus(context.Background(), "missing")
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 404, re.Status)
	assert.Equal(t, "not_found", re.Code)
	assert.False(t, IsTransient(err))
}

func TestHTTPClient_UnstructuredError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := client.GetMigrationTypes(context.Background())
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "unknown", re.Code)
	assert.True(t, IsTransient(err))
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", "", 0.001)
	// The first request consumes the only token.
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetMigrationTypes(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
