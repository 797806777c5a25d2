package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putArtifact(t *testing.T, stack *Stack, data string, createdAt time.Time) string {
	t.Helper()
	url, err := blobstore.PutBytes(context.Background(), stack.Blobs, []byte(data), blobstore.Info{
		Type:      "USER",
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	return url
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t, "")
	old := time.Now().Add(-2 * time.Hour)

	inUse := putArtifact(t, stack, `[{"id":1}]`, old)
	stale := putArtifact(t, stack, `[{"id":2}]`, old)
	fresh := putArtifact(t, stack, `[{"id":3}]`, time.Now())
	finished := putArtifact(t, stack, `[{"id":4}]`, old)

	require.NoError(t, stack.Jobs.SaveJob(ctx, &models.BackupRestoreStatus{
		ID: "restoring", Type: models.JobRestore, Status: models.JobStarted, BackupURL: inUse,
	}))
	require.NoError(t, stack.Jobs.SaveJob(ctx, &models.BackupRestoreStatus{
		ID: "done", Type: models.JobRestore, Status: models.JobCompleted, BackupURL: finished,
	}))

	result, err := GarbageCollect(ctx, stack.Jobs, stack.Blobs, time.Hour, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, result.BlobsScanned)
	assert.Equal(t, 1, result.ReferencedBlobs)
	assert.Equal(t, 2, result.BlobsDeleted)
	assert.Equal(t, 2, result.BlobsRemaining)

	for url, want := range map[string]bool{inUse: true, stale: false, fresh: true, finished: false} {
		hash, err := blobstore.ParseURL(url)
		require.NoError(t, err)
		has, err := stack.Blobs.Has(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, want, has, url)
	}
}

func TestGarbageCollect_Endpoint(t *testing.T) {
	stack := newTestStack(t, "")
	putArtifact(t, stack, `[]`, time.Now())
	ts := newTestServer(t, stack, nil)

	resp := doRequest(t, "POST", ts.URL+"/admin/backups/gc?olderThan=0s", nil)
	require.Equal(t, 200, resp.StatusCode)

	var result GCResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.Zero(t, result.BlobsRemaining)

	count, err := stack.Blobs.TotalCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	resp = doRequest(t, "POST", ts.URL+"/admin/backups/gc?olderThan=soon", nil)
	assert.Equal(t, 400, resp.StatusCode)
}
