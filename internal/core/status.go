package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
)

// SetStatus sets the status of the stack behind client and checks the stack confirmed it.
func SetStatus(ctx context.Context, client remote.AdminClient, status models.StatusType, message string) (*models.StackStatus, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid stack status %q", status)
	}
	got, err := client.UpdateCurrentStackStatus(ctx, &models.StackStatus{Status: status, CurrentMessage: message})
	if err != nil {
		return nil, fmt.Errorf("set stack status %s: %w", status, err)
	}
	if got.Status != status {
		return got, fmt.Errorf("set stack status %s: stack reports %s", status, got.Status)
	}
	return got, nil
}

// GetStatus returns the current status of the stack behind client.
func GetStatus(ctx context.Context, client remote.AdminClient) (*models.StackStatus, error) {
	status, err := client.GetCurrentStackStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stack status: %w", err)
	}
	return status, nil
}

// ReadOnlyWindow puts client's stack in READ_ONLY, runs fn, and sets READ_WRITE again
// on every exit path. A failure to restore is logged and joined to fn's error.
func ReadOnlyWindow(ctx context.Context, client remote.AdminClient, message string, logger *slog.Logger, fn func(ctx context.Context) error) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := SetStatus(ctx, client, models.StatusReadOnly, message); err != nil {
		return err
	}
	logger.Info("destination is read-only", "message", message)

	defer func() {
		// The caller's context may already be cancelled; the restore still has to go out.
		restoreCtx := context.WithoutCancel(ctx)
		if _, rerr := SetStatus(restoreCtx, client, models.StatusReadWrite, ""); rerr != nil {
			logger.Error("failed to restore destination to read-write", "error", rerr)
			err = errors.Join(err, rerr)
			return
		}
		logger.Info("destination is read-write")
	}()

	return fn(ctx)
}
