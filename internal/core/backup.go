package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/stackmig/internal/metrics"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
)

var (
	// ErrJobFailed is returned when an async job ends in FAILED.
	ErrJobFailed = errors.New("job failed")
	// ErrJobTimeout is returned when an async job does not finish within the maximum wait.
	// The remote job is left running.
	ErrJobTimeout = errors.New("job timed out")
	// ErrBatchExhausted is returned when a batch failed on every attempt.
	ErrBatchExhausted = errors.New("batch retries exhausted")
)

// PollConfig controls how async jobs are polled.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxWait bounds the total time spent waiting on one job. Zero means no limit.
	MaxWait time.Duration
}

// DefaultPollConfig returns the polling discipline used when none is configured.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxWait:         30 * time.Minute,
	}
}

// BackupRestorer copies batches of rows from the source to the destination
// through the stacks' backup and restore jobs.
type BackupRestorer struct {
	source      remote.AdminClient
	destination remote.AdminClient
	poll        PollConfig
	retryCount  int
	clock       Clock
	logger      *slog.Logger
}

// NewBackupRestorer creates an orchestrator. Each batch is attempted at most retryCount+1 times.
func NewBackupRestorer(source, destination remote.AdminClient, poll PollConfig, retryCount int) *BackupRestorer {
	return &BackupRestorer{
		source:      source,
		destination: destination,
		poll:        poll,
		retryCount:  retryCount,
		clock:       defaultClock,
		logger:      slog.Default(),
	}
}

// MigrateBatch backs up ids of t on the source and restores the artifact on the destination.
// A failed or timed-out job fails the attempt; the whole batch is then retried from the backup.
func (b *BackupRestorer) MigrateBatch(ctx context.Context, t models.MigrationType, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt <= b.retryCount; attempt++ {
		if attempt > 0 {
			b.logger.Warn("retrying batch", "attempt", attempt+1, "first_id", ids[0], "size", len(ids), "error", err)
		}
		err = b.migrateOnce(ctx, t, ids)
		if err == nil {
			metrics.Batches.WithLabelValues(string(t), "restore", "success").Inc()
			return nil
		}
		metrics.Batches.WithLabelValues(string(t), "restore", "error").Inc()
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%w: batch of %d %s rows starting at %d failed after %d attempts: %w",
		ErrBatchExhausted, len(ids), t, ids[0], b.retryCount+1, err)
}

func (b *BackupRestorer) migrateOnce(ctx context.Context, t models.MigrationType, ids []int64) error {
	job, err := b.source.StartBackup(ctx, t, ids)
	if err != nil {
		return fmt.Errorf("start backup: %w", err)
	}
	backup, err := b.WaitForJob(ctx, b.source, job)
	if err != nil {
		return fmt.Errorf("backup %s: %w", job.ID, err)
	}
	if backup.BackupURL == "" {
		return fmt.Errorf("backup %s: %w: completed without a backup url", job.ID, ErrJobFailed)
	}

	job, err = b.destination.StartRestore(ctx, t, &models.RestoreSubmission{BackupURL: backup.BackupURL})
	if err != nil {
		return fmt.Errorf("start restore: %w", err)
	}
	if _, err := b.WaitForJob(ctx, b.destination, job); err != nil {
		return fmt.Errorf("restore %s: %w", job.ID, err)
	}
	return nil
}

// WaitForJob polls job on client with exponential backoff until it reaches a terminal state.
func (b *BackupRestorer) WaitForJob(ctx context.Context, client remote.AdminClient, job *models.BackupRestoreStatus) (*models.BackupRestoreStatus, error) {
	start := b.clock.Now()
	defer func() {
		metrics.JobWait.WithLabelValues(string(job.Type)).Observe(b.clock.Now().Sub(start).Seconds())
	}()

	interval := b.poll.InitialInterval
	if interval <= 0 {
		interval = DefaultPollConfig().InitialInterval
	}
	status := job
	for {
		switch status.Status {
		case models.JobCompleted:
			return status, nil
		case models.JobFailed:
			if status.ErrorMessage != "" {
				return status, fmt.Errorf("%w: %s", ErrJobFailed, status.ErrorMessage)
			}
			return status, ErrJobFailed
		}

		wait := interval
		if b.poll.MaxWait > 0 {
			remaining := b.poll.MaxWait - b.clock.Now().Sub(start)
			if remaining <= 0 {
				return status, fmt.Errorf("%w after %s", ErrJobTimeout, b.poll.MaxWait)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-b.clock.After(wait):
		}

		next, err := client.GetStatus(ctx, job.ID)
		if err != nil {
			return status, fmt.Errorf("poll job: %w", err)
		}
		status = next
		b.logger.Debug("job progress", "job", job.ID, "status", status.Status,
			"current", status.ProgressCurrent, "total", status.ProgressTotal)

		interval *= 2
		if b.poll.MaxInterval > 0 && interval > b.poll.MaxInterval {
			interval = b.poll.MaxInterval
		}
	}
}
