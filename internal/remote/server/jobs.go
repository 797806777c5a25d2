package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kilupskalvis/stackmig/internal/metrics"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote/blobstore"
	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
)

// ErrTypeMismatch is returned when a restore names a type other than the artifact's.
var ErrTypeMismatch = errors.New("backup artifact holds another migration type")

// JobRunner executes backup and restore jobs in background goroutines.
// Job state is persisted in the stack's JobStore so it survives the request.
type JobRunner struct {
	stack  *Stack
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobRunner creates a runner bound to the given stack.
func NewJobRunner(stack *Stack, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRunner{stack: stack, logger: logger, ctx: ctx, cancel: cancel}
}

// StartBackup records a STARTED backup job and exports the rows in the background.
func (jr *JobRunner) StartBackup(ctx context.Context, t models.MigrationType, ids []int64) (*models.BackupRestoreStatus, error) {
	job := &models.BackupRestoreStatus{
		ID:            uuid.New().String(),
		Type:          models.JobBackup,
		MigrationType: t,
		Status:        models.JobStarted,
		ProgressTotal: int64(len(ids)),
	}
	if err := jr.stack.Jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save backup job: %w", err)
	}

	jr.run(job, func(ctx context.Context, own *models.BackupRestoreStatus) error {
		return jr.backup(ctx, own, ids)
	})
	return job, nil
}

// StartRestore checks the artifact exists and imports it in the background.
// Returns blobstore.ErrBlobNotFound or blobstore.ErrInvalidURL for unusable URLs.
func (jr *JobRunner) StartRestore(ctx context.Context, t models.MigrationType, backupURL string) (*models.BackupRestoreStatus, error) {
	hash, err := blobstore.ParseURL(backupURL)
	if err != nil {
		return nil, err
	}
	rc, info, err := jr.stack.Blobs.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	rc.Close()
	if info.Type != "" && info.Type != t {
		return nil, fmt.Errorf("%w: %s, not %s", ErrTypeMismatch, info.Type, t)
	}

	job := &models.BackupRestoreStatus{
		ID:            uuid.New().String(),
		Type:          models.JobRestore,
		MigrationType: t,
		Status:        models.JobStarted,
		ProgressTotal: int64(info.Rows),
		BackupURL:     backupURL,
	}
	if err := jr.stack.Jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save restore job: %w", err)
	}

	jr.run(job, func(ctx context.Context, own *models.BackupRestoreStatus) error {
		return jr.restore(ctx, own, hash)
	})
	return job, nil
}

// Wait cancels running jobs and blocks until their goroutines exit.
func (jr *JobRunner) Wait() {
	jr.cancel()
	jr.wg.Wait()
}

// run executes fn in a goroutine on a copy of job and persists its terminal state.
func (jr *JobRunner) run(job *models.BackupRestoreStatus, fn func(ctx context.Context, own *models.BackupRestoreStatus) error) {
	own := *job
	gauge := metrics.JobsRunning.WithLabelValues(string(own.Type))
	gauge.Inc()
	jr.wg.Add(1)

	go func() {
		defer jr.wg.Done()
		defer gauge.Dec()

		logger := jr.logger.With("job", own.ID, "kind", own.Type, "type", own.MigrationType)
		if err := fn(jr.ctx, &own); err != nil {
			own.Status = models.JobFailed
			own.ErrorMessage = err.Error()
			logger.Warn("job failed", "error", err)
		} else {
			own.Status = models.JobCompleted
			own.ProgressCurrent = own.ProgressTotal
			logger.Debug("job completed", "rows", own.ProgressTotal)
		}

		// Terminal state must land even when the runner is shutting down.
		if err := jr.stack.Jobs.SaveJob(context.WithoutCancel(jr.ctx), &own); err != nil {
			logger.Error("save job state", "error", err)
		}
	}()
}

func (jr *JobRunner) backup(ctx context.Context, job *models.BackupRestoreStatus, ids []int64) error {
	rows, err := jr.stack.Rows.ExportRows(ctx, job.MigrationType, ids)
	if err != nil {
		return fmt.Errorf("export rows: %w", err)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	url, err := blobstore.PutBytes(ctx, jr.stack.Blobs, data, blobstore.Info{
		Type: job.MigrationType,
		Rows: len(rows),
	})
	if err != nil {
		return fmt.Errorf("store backup: %w", err)
	}
	job.BackupURL = url
	job.ProgressTotal = int64(len(rows))
	return nil
}

func (jr *JobRunner) restore(ctx context.Context, job *models.BackupRestoreStatus, hash string) error {
	rc, _, err := jr.stack.Blobs.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer rc.Close()

	var rows []*metastore.Row
	if err := json.NewDecoder(rc).Decode(&rows); err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}
	if err := jr.stack.Rows.ImportRows(ctx, job.MigrationType, rows); err != nil {
		return fmt.Errorf("import rows: %w", err)
	}
	job.ProgressTotal = int64(len(rows))
	return nil
}
