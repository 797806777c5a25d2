package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRows_PutGetDelete(t *testing.T) {
	ts := newTestServer(t, newTestStack(t, ""), nil)
	url := ts.URL + "/api/v1/rows/USER/7"

	parent := int64(1)
	resp := doRequest(t, "PUT", url, &PutRowRequest{ParentID: &parent, Data: json.RawMessage(`{"name":"ada"}`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var put struct {
		ID       int64           `json:"id"`
		Etag     string          `json:"etag"`
		ParentID *int64          `json:"parentId"`
		Data     json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&put))
	assert.EqualValues(t, 7, put.ID)
	assert.NotEmpty(t, put.Etag)

	resp = doRequest(t, "GET", url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Etag     string          `json:"etag"`
		ParentID *int64          `json:"parentId"`
		Data     json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, put.Etag, got.Etag)
	require.NotNil(t, got.ParentID)
	assert.EqualValues(t, 1, *got.ParentID)
	assert.JSONEq(t, `{"name":"ada"}`, string(got.Data))

	resp = doRequest(t, "DELETE", url, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, "GET", url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, "DELETE", url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRows_BadRequests(t *testing.T) {
	ts := newTestServer(t, newTestStack(t, ""), nil)

	resp := doRequest(t, "GET", ts.URL+"/api/v1/rows/USER/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, "GET", ts.URL+"/api/v1/rows/NOPE/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRows_StatusEnforcement(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t, "")
	seed(t, stack, "USER", 1)
	ts := newTestServer(t, stack, nil)
	admin := remote.NewHTTPClient(ts.URL, "", 0)
	url := ts.URL + "/api/v1/rows/USER/1"
	body := &PutRowRequest{Data: json.RawMessage(`{}`)}

	tests := []struct {
		status     models.StatusType
		wantGet    int
		wantPut    int
		wantDelete int
		wantCode   string
	}{
		{models.StatusReadOnly, http.StatusOK, http.StatusServiceUnavailable, http.StatusServiceUnavailable, "read_only"},
		{models.StatusDown, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable, "stack_down"},
		{models.StatusReadWrite, http.StatusOK, http.StatusOK, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			_, err := admin.UpdateCurrentStackStatus(ctx, &models.StackStatus{Status: tt.status, CurrentMessage: "test"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantGet, doRequest(t, "GET", url, nil).StatusCode)

			resp := doRequest(t, "PUT", url, body)
			assert.Equal(t, tt.wantPut, resp.StatusCode)
			if tt.wantCode != "" {
				var er remote.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
				assert.Equal(t, tt.wantCode, er.Error)
			}

			assert.Equal(t, tt.wantDelete, doRequest(t, "DELETE", url, nil).StatusCode)
		})
	}
}

func TestRows_RateLimited(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.RateBurst = 1
	ts := newTestServer(t, newTestStack(t, ""), cfg)

	first := doRequest(t, "GET", ts.URL+"/api/v1/rows/USER/1", nil)
	assert.Equal(t, http.StatusNotFound, first.StatusCode)

	second := doRequest(t, "GET", ts.URL+"/api/v1/rows/USER/1", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))

	// The admin API is not limited
	_, err := remote.NewHTTPClient(ts.URL, "", 0).GetMigrationTypes(context.Background())
	assert.NoError(t, err)
}
