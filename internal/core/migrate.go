package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/stackmig/internal/metrics"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
)

const (
	DefaultBatchSize   = 500
	DefaultRetryCount  = 3
	DefaultReplayLimit = 1000
)

// MigrateOptions configures a migration run.
type MigrateOptions struct {
	BatchSize  int64
	MaxWait    time.Duration
	RetryCount int
	// DeleteOnly runs the delete pass and skips creates, updates and verification.
	DeleteOnly bool
	// ChecksumRangeSize splits verification into sub-ranges of this many ids. Zero verifies each type as one range.
	ChecksumRangeSize int64
	RemoteChecksum    bool
	ReplayLimit       int64
	// SpoolDir holds temporary delta files. Empty uses the system temp dir.
	SpoolDir string
}

func (o MigrateOptions) withDefaults() MigrateOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.ReplayLimit <= 0 {
		o.ReplayLimit = DefaultReplayLimit
	}
	return o
}

// Progress is called during a run to report progress.
// Phases are "delete", "migrate", "verify" and "replay".
type Progress func(phase string, t models.MigrationType, current, total int64)

// MigrationClient migrates every type from a source stack to a destination stack.
type MigrationClient struct {
	source      remote.AdminClient
	destination remote.AdminClient

	Logger   *slog.Logger
	Progress Progress
	// Poll sets the backoff of job polling; MaxWait from MigrateOptions overrides Poll.MaxWait.
	Poll PollConfig

	clock Clock
}

// NewMigrationClient creates a client migrating from source to destination.
func NewMigrationClient(source, destination remote.AdminClient) *MigrationClient {
	return &MigrationClient{
		source:      source,
		destination: destination,
		Logger:      slog.Default(),
		Poll:        DefaultPollConfig(),
		clock:       defaultClock,
	}
}

func (c *MigrationClient) progress(phase string, t models.MigrationType, current, total int64) {
	if c.Progress != nil {
		c.Progress(phase, t, current, total)
	}
}

// MigrateAllTypes runs a full migration inside a read-only window on the destination:
// a delete pass in reverse type order, a create/update pass with checksum verification
// in type order, then a replay of the change messages raised by the migration.
//
// A type that exhausts its retries is recorded in the result and the run moves on.
// An error is returned only when the run could not make progress at all.
func (c *MigrationClient) MigrateAllTypes(ctx context.Context, opts MigrateOptions) (*models.RunResult, error) {
	opts = opts.withDefaults()
	run := &models.RunResult{
		ID:         uuid.NewString(),
		StartedAt:  c.clock.Now(),
		DeleteOnly: opts.DeleteOnly,
	}
	logger := c.Logger.With("run", run.ID)

	err := ReadOnlyWindow(ctx, c.destination, "data migration "+run.ID, logger, func(ctx context.Context) error {
		mark, err := c.destination.GetCurrentChangeNumber(ctx)
		if err != nil {
			return fmt.Errorf("get change number: %w", err)
		}

		types, err := c.destination.GetMigrationTypes(ctx)
		if err != nil {
			return fmt.Errorf("get migration types: %w", err)
		}
		for _, t := range types {
			run.ResultFor(t)
		}

		for i := len(types) - 1; i >= 0; i-- {
			if err := c.migrateType(ctx, logger, run.ResultFor(types[i]), opts, c.deletePass); err != nil {
				return err
			}
		}

		if !opts.DeleteOnly {
			for _, t := range types {
				tr := run.ResultFor(t)
				if tr.Failed() {
					logger.Warn("skipping type after failed delete pass", "type", t)
					continue
				}
				if err := c.migrateType(ctx, logger, tr, opts, c.copyPass); err != nil {
					return err
				}
			}
		}

		batches, err := c.replayChanges(ctx, mark.NextChangeNumber, opts.ReplayLimit)
		run.ReplayBatches = batches
		if err != nil {
			return fmt.Errorf("replay changes from %d: %w", mark.NextChangeNumber, err)
		}
		logger.Info("change messages replayed", "from", mark.NextChangeNumber, "batches", batches)
		return nil
	})
	run.FinishedAt = c.clock.Now()

	totals := run.Totals()
	logger.Info("migration finished",
		"succeeded", err == nil && run.Succeeded(),
		"create", totals.Create, "update", totals.Update, "delete", totals.Delete,
		"duration", run.FinishedAt.Sub(run.StartedAt))
	return run, err
}

type typePass func(ctx context.Context, logger *slog.Logger, tr *models.TypeResult, opts MigrateOptions) error

// migrateType runs pass for one type, retrying up to opts.RetryCount times.
// A batch that exhausted its own retries fails the type without another attempt.
// Only a cancelled context is returned as an error; exhausted retries are recorded on tr.
func (c *MigrationClient) migrateType(ctx context.Context, logger *slog.Logger, tr *models.TypeResult, opts MigrateOptions, pass typePass) error {
	logger = logger.With("type", tr.Type)

	var err error
	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		tr.Attempts++
		if err = pass(ctx, logger, tr, opts); err == nil {
			metrics.TypeAttempts.WithLabelValues(string(tr.Type), "success").Inc()
			return nil
		}
		metrics.TypeAttempts.WithLabelValues(string(tr.Type), "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrBatchExhausted) {
			break
		}
		logger.Warn("type attempt failed", "attempt", attempt+1, "error", err)
	}
	tr.Error = err.Error()
	logger.Error("type failed", "attempts", tr.Attempts, "error", err)
	return nil
}

// TypeIDRange returns the union of the id ranges of t on both stacks.
// A stack without rows of t does not contribute; ok is false when both are empty.
func TypeIDRange(ctx context.Context, source, destination remote.AdminClient, t models.MigrationType) (minID, maxID int64, ok bool, err error) {
	src, err := source.GetTypeCount(ctx, t)
	if err != nil {
		return 0, 0, false, fmt.Errorf("source count: %w", err)
	}
	dst, err := destination.GetTypeCount(ctx, t)
	if err != nil {
		return 0, 0, false, fmt.Errorf("destination count: %w", err)
	}

	for _, tc := range []*models.TypeCount{src, dst} {
		if tc.Empty() {
			continue
		}
		if !ok || tc.MinID < minID {
			minID = tc.MinID
		}
		if !ok || tc.MaxID > maxID {
			maxID = tc.MaxID
		}
		ok = true
	}
	return minID, maxID, ok, nil
}

// spoolDelta runs the delta builder over [minID, maxID] and spools the selected streams.
func (c *MigrationClient) spoolDelta(ctx context.Context, logger *slog.Logger, t models.MigrationType, minID, maxID int64, opts MigrateOptions, upserts, deletes bool) (*IDSpool, models.DeltaCounts, error) {
	spool, err := NewIDSpool(opts.SpoolDir)
	if err != nil {
		return nil, models.DeltaCounts{}, err
	}

	var create, update, remove RowWriter
	if upserts {
		create, update = spool, spool
	}
	if deletes {
		remove = spool
	}
	srcIt := NewRangeMetadataIterator(c.source, t, opts.BatchSize, minID, maxID)
	dstIt := NewRangeMetadataIterator(c.destination, t, opts.BatchSize, minID, maxID)
	counts, err := NewDeltaBuilder(srcIt, dstIt, create, update, remove).Build(ctx)
	if err != nil {
		return nil, counts, errors.Join(fmt.Errorf("compute delta: %w", err), spool.Close())
	}
	logger.Debug("delta computed", "min_id", minID, "max_id", maxID, "differences", counts.Total(),
		"source_pages", srcIt.Pages(), "destination_pages", dstIt.Pages())
	return spool, counts, nil
}

func (c *MigrationClient) deletePass(ctx context.Context, logger *slog.Logger, tr *models.TypeResult, opts MigrateOptions) error {
	minID, maxID, ok, err := TypeIDRange(ctx, c.source, c.destination, tr.Type)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("type is empty on both stacks")
		return nil
	}

	spool, counts, err := c.spoolDelta(ctx, logger, tr.Type, minID, maxID, opts, false, true)
	if err != nil {
		return err
	}
	defer spool.Close()

	var deleted int64
	total := spool.Len()
	c.progress("delete", tr.Type, 0, total)
	err = spool.Batches(int(opts.BatchSize), func(ids []int64) error {
		res, err := c.destination.DeleteMigratableObject(ctx, tr.Type, ids)
		if err != nil {
			metrics.Batches.WithLabelValues(string(tr.Type), "delete", "error").Inc()
			return fmt.Errorf("delete batch starting at %d: %w", ids[0], err)
		}
		metrics.Batches.WithLabelValues(string(tr.Type), "delete", "success").Inc()
		metrics.RowsMigrated.WithLabelValues(string(tr.Type), "delete").Add(float64(res.Count))
		if res.Count != int64(len(ids)) {
			logger.Warn("destination deleted fewer rows than requested", "requested", len(ids), "deleted", res.Count)
		}
		deleted += int64(len(ids))
		c.progress("delete", tr.Type, deleted, total)
		return nil
	})
	if err != nil {
		return err
	}

	tr.Counts.Delete = counts.Delete
	logger.Info("delete pass complete", "delete", counts.Delete)
	return nil
}

func (c *MigrationClient) copyPass(ctx context.Context, logger *slog.Logger, tr *models.TypeResult, opts MigrateOptions) error {
	minID, maxID, ok, err := TypeIDRange(ctx, c.source, c.destination, tr.Type)
	if err != nil {
		return err
	}
	if !ok {
		tr.ChecksumVerified = true
		tr.ChecksumMismatches = nil
		return nil
	}

	spool, counts, err := c.spoolDelta(ctx, logger, tr.Type, minID, maxID, opts, true, false)
	if err != nil {
		return err
	}
	defer spool.Close()

	poll := c.Poll
	if opts.MaxWait > 0 {
		poll.MaxWait = opts.MaxWait
	}
	restorer := NewBackupRestorer(c.source, c.destination, poll, opts.RetryCount)
	restorer.clock = c.clock
	restorer.logger = logger

	var copied int64
	total := spool.Len()
	c.progress("migrate", tr.Type, 0, total)
	err = spool.Batches(int(opts.BatchSize), func(ids []int64) error {
		if err := restorer.MigrateBatch(ctx, tr.Type, ids); err != nil {
			return err
		}
		copied += int64(len(ids))
		c.progress("migrate", tr.Type, copied, total)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RowsMigrated.WithLabelValues(string(tr.Type), "create").Add(float64(counts.Create))
	metrics.RowsMigrated.WithLabelValues(string(tr.Type), "update").Add(float64(counts.Update))
	tr.Counts.Create = counts.Create
	tr.Counts.Update = counts.Update

	c.progress("verify", tr.Type, 0, 0)
	verifier := NewChecksumVerifier(c.source, c.destination, opts.BatchSize)
	verifier.Remote = opts.RemoteChecksum
	mismatches, err := verifier.VerifyRanges(ctx, tr.Type, minID, maxID, opts.ChecksumRangeSize)
	if err != nil {
		return fmt.Errorf("verify checksums: %w", err)
	}
	tr.ChecksumVerified = true
	tr.ChecksumMismatches = nil
	for _, m := range mismatches {
		tr.ChecksumMismatches = append(tr.ChecksumMismatches, m.Mismatch())
		metrics.ChecksumMismatches.WithLabelValues(string(tr.Type)).Inc()
		logger.Error("checksum mismatch", "min_id", m.MinID, "max_id", m.MaxID,
			"source", m.Source, "destination", m.Destination)
	}

	logger.Info("type migrated",
		"create", counts.Create, "update", counts.Update, "delete", tr.Counts.Delete,
		"checksum_ok", len(mismatches) == 0, "attempts", tr.Attempts)
	return nil
}

// replayChanges fires the destination's change messages from start until the stack
// reports there are none left, and returns the number of fire calls made.
func (c *MigrationClient) replayChanges(ctx context.Context, start, limit int64) (int64, error) {
	var batches int64
	next := start
	for next != models.ChangesExhausted {
		c.progress("replay", "", next, 0)
		res, err := c.destination.FireChangeMessages(ctx, next, limit)
		if err != nil {
			return batches, err
		}
		batches++
		metrics.ReplayBatches.Inc()
		if res.NextChangeNumber != models.ChangesExhausted && res.NextChangeNumber <= next {
			return batches, fmt.Errorf("change number did not advance past %d", next)
		}
		next = res.NextChangeNumber
	}
	return batches, nil
}
