package core

import (
	"context"
	"errors"
	"testing"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStatus(t *testing.T) {
	m := remote.NewMockClient(nil)

	got, err := SetStatus(context.Background(), m, models.StatusDown, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDown, got.Status)

	status, err := GetStatus(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", status.CurrentMessage)
}

func TestSetStatus_RejectsUnknownStatus(t *testing.T) {
	m := remote.NewMockClient(nil)
	_, err := SetStatus(context.Background(), m, "SLEEPING", "")
	require.Error(t, err)
	assert.Equal(t, 0, m.CallCount("UpdateCurrentStackStatus"))
}

func TestReadOnlyWindow_RestoresAfterSuccess(t *testing.T) {
	m := remote.NewMockClient(nil)

	var during models.StatusType
	err := ReadOnlyWindow(context.Background(), m, "migrating", nil, func(ctx context.Context) error {
		during = m.Status.Status
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadOnly, during)
	assert.Equal(t, []models.StatusType{models.StatusReadOnly, models.StatusReadWrite}, m.StatusHistory)
}

func TestReadOnlyWindow_RestoresAfterFailure(t *testing.T) {
	m := remote.NewMockClient(nil)
	boom := errors.New("boom")

	err := ReadOnlyWindow(context.Background(), m, "migrating", nil, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusReadWrite, m.Status.Status)
}

func TestReadOnlyWindow_RestoresAfterCancel(t *testing.T) {
	m := remote.NewMockClient(nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := ReadOnlyWindow(ctx, m, "migrating", nil, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusReadWrite, m.Status.Status)
}

func TestReadOnlyWindow_RestoreErrorIsJoined(t *testing.T) {
	m := remote.NewMockClient(nil)
	boom := errors.New("boom")

	err := ReadOnlyWindow(context.Background(), m, "migrating", nil, func(context.Context) error {
		m.Failures["UpdateCurrentStackStatus"] = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	var remoteErr *remote.RemoteError
	assert.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, models.StatusReadOnly, m.Status.Status)
}

func TestReadOnlyWindow_NotEnteredWhenStatusFails(t *testing.T) {
	m := remote.NewMockClient(nil)
	m.Failures["UpdateCurrentStackStatus"] = 1

	ran := false
	err := ReadOnlyWindow(context.Background(), m, "migrating", nil, func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, models.StatusReadWrite, m.Status.Status)
}
