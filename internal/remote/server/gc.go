package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote/blobstore"
	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
)

// GCResult contains the outcome of a garbage collection run.
type GCResult struct {
	BlobsScanned    int `json:"blobsScanned"`
	BlobsDeleted    int `json:"blobsDeleted"`
	ReferencedBlobs int `json:"referencedBlobs"`
	BlobsRemaining  int `json:"blobsRemaining"`
}

// GarbageCollect removes backup artifacts that no running job references and
// that were written before now minus olderThan.
func GarbageCollect(ctx context.Context, jobs metastore.JobStore, blobs blobstore.BlobStore, olderThan time.Duration, logger *slog.Logger) (*GCResult, error) {
	result := &GCResult{}

	list, err := jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	referenced := make(map[string]bool)
	for _, job := range list {
		if job.Status != models.JobStarted || job.BackupURL == "" {
			continue
		}
		if hash, err := blobstore.ParseURL(job.BackupURL); err == nil {
			referenced[hash] = true
		}
	}
	result.ReferencedBlobs = len(referenced)

	allHashes, err := blobs.ListHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blob hashes: %w", err)
	}
	result.BlobsScanned = len(allHashes)

	cutoff := time.Now().Add(-olderThan)
	for _, hash := range allHashes {
		if referenced[hash] {
			continue
		}
		rc, info, err := blobs.Get(ctx, hash)
		if err != nil {
			logger.Warn("gc: failed to read blob", "hash", hash, "error", err)
			continue
		}
		rc.Close()
		if info.CreatedAt.After(cutoff) {
			continue
		}
		if err := blobs.Delete(ctx, hash); err != nil {
			logger.Warn("gc: failed to delete blob", "hash", hash, "error", err)
			continue
		}
		result.BlobsDeleted++
	}

	remaining, err := blobs.TotalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count blobs: %w", err)
	}
	result.BlobsRemaining = remaining

	logger.Info("gc complete",
		"scanned", result.BlobsScanned,
		"referenced", result.ReferencedBlobs,
		"deleted", result.BlobsDeleted,
		"remaining", result.BlobsRemaining,
	)

	return result, nil
}
