package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps an AdminClient with automatic retry on transient errors.
type RetryClient struct {
	inner  AdminClient
	config *RetryConfig
}

var _ AdminClient = (*RetryClient)(nil)

// NewRetryClient creates a RetryClient that wraps the given AdminClient.
func NewRetryClient(inner AdminClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// IsTransient returns true for errors that are worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate all AdminClient methods through retry logic ---

func (rc *RetryClient) GetMigrationTypes(ctx context.Context) (types []models.MigrationType, err error) {
	err = rc.retry(ctx, "get migration types", func() error {
		types, err = rc.inner.GetMigrationTypes(ctx)
		return err
	})
	return
}

func (rc *RetryClient) GetTypeCount(ctx context.Context, t models.MigrationType) (count *models.TypeCount, err error) {
	err = rc.retry(ctx, "get type count", func() error {
		count, err = rc.inner.GetTypeCount(ctx, t)
		return err
	})
	return
}

func (rc *RetryClient) GetTypeCounts(ctx context.Context) (counts []*models.TypeCount, err error) {
	err = rc.retry(ctx, "get type counts", func() error {
		counts, err = rc.inner.GetTypeCounts(ctx)
		return err
	})
	return
}

func (rc *RetryClient) GetRowMetadataByRange(ctx context.Context, t models.MigrationType, minID, maxID, limit, offset int64) (*models.RowMetadataResult, error) {
	// Listing is not retried: a failed page fails the delta and the type attempt is retried instead.
	return rc.inner.GetRowMetadataByRange(ctx, t, minID, maxID, limit, offset)
}

func (rc *RetryClient) GetChecksumForIDRange(ctx context.Context, t models.MigrationType, salt string, minID, maxID int64) (sum *models.MigrationRangeChecksum, err error) {
	err = rc.retry(ctx, "get range checksum", func() error {
		sum, err = rc.inner.GetChecksumForIDRange(ctx, t, salt, minID, maxID)
		return err
	})
	return
}

func (rc *RetryClient) StartBackup(ctx context.Context, t models.MigrationType, ids []int64) (*models.BackupRestoreStatus, error) {
	// Starting a job is not retried: a lost response would leave a duplicate job running.
	// BackupRestorer retries the whole batch instead.
	return rc.inner.StartBackup(ctx, t, ids)
}

func (rc *RetryClient) StartRestore(ctx context.Context, t models.MigrationType, sub *models.RestoreSubmission) (*models.BackupRestoreStatus, error) {
	return rc.inner.StartRestore(ctx, t, sub)
}

func (rc *RetryClient) GetStatus(ctx context.Context, jobID string) (job *models.BackupRestoreStatus, err error) {
	err = rc.retry(ctx, "get job status", func() error {
		job, err = rc.inner.GetStatus(ctx, jobID)
		return err
	})
	return
}

func (rc *RetryClient) DeleteMigratableObject(ctx context.Context, t models.MigrationType, ids []int64) (res *models.DeleteResult, err error) {
	// Deleting an already-deleted row is a no-op, so retry is safe.
	err = rc.retry(ctx, "delete rows", func() error {
		res, err = rc.inner.DeleteMigratableObject(ctx, t, ids)
		return err
	})
	return
}

func (rc *RetryClient) GetCurrentStackStatus(ctx context.Context) (status *models.StackStatus, err error) {
	err = rc.retry(ctx, "get stack status", func() error {
		status, err = rc.inner.GetCurrentStackStatus(ctx)
		return err
	})
	return
}

func (rc *RetryClient) UpdateCurrentStackStatus(ctx context.Context, s *models.StackStatus) (status *models.StackStatus, err error) {
	err = rc.retry(ctx, "update stack status", func() error {
		status, err = rc.inner.UpdateCurrentStackStatus(ctx, s)
		return err
	})
	return
}

func (rc *RetryClient) GetCurrentChangeNumber(ctx context.Context) (cn *models.ChangeNumber, err error) {
	err = rc.retry(ctx, "get current change number", func() error {
		cn, err = rc.inner.GetCurrentChangeNumber(ctx)
		return err
	})
	return
}

func (rc *RetryClient) FireChangeMessages(ctx context.Context, startNumber, limit int64) (cn *models.ChangeNumber, err error) {
	err = rc.retry(ctx, "fire change messages", func() error {
		cn, err = rc.inner.FireChangeMessages(ctx, startNumber, limit)
		return err
	})
	return
}
