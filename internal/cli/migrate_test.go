package cli

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/stackmig/internal/config"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/kilupskalvis/stackmig/internal/store"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMigrateTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "migrate"}
	registerMigrateFlags(cmd)
	return cmd
}

func TestMigrateOptions_ConfigValues(t *testing.T) {
	cfg := config.Default()
	cfg.Migration.BatchSize = 250
	cfg.Migration.ChecksumRangeSize = 1000
	cfg.Migration.RemoteChecksum = true

	opts := migrateOptions(newMigrateTestCommand(t), &cmdContext{Config: cfg})
	assert.EqualValues(t, 250, opts.BatchSize)
	assert.Equal(t, 30*time.Minute, opts.MaxWait)
	assert.Equal(t, 3, opts.RetryCount)
	assert.EqualValues(t, 1000, opts.ChecksumRangeSize)
	assert.True(t, opts.RemoteChecksum)
	assert.False(t, opts.DeleteOnly)
}

func TestMigrateOptions_FlagsOverrideConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Migration.BatchSize = 250

	cmd := newMigrateTestCommand(t)
	require.NoError(t, cmd.Flags().Set("batch-size", "40"))
	require.NoError(t, cmd.Flags().Set("max-wait", "90s"))
	require.NoError(t, cmd.Flags().Set("retry-count", "0"))
	require.NoError(t, cmd.Flags().Set("delete-only", "true"))

	opts := migrateOptions(cmd, &cmdContext{Config: cfg})
	assert.EqualValues(t, 40, opts.BatchSize)
	assert.Equal(t, 90*time.Second, opts.MaxWait)
	assert.Equal(t, 0, opts.RetryCount)
	assert.True(t, opts.DeleteOnly)
}

func newMigrateTestContext(t *testing.T) (*cmdContext, *remote.MockClient, *remote.MockClient) {
	t.Helper()
	bucket := remote.NewMockBucket()
	src := remote.NewMockClient(bucket, "USER")
	dst := remote.NewMockClient(bucket, "USER")
	src.SetRows("USER", models.NewRowMetadata(1, "a"))

	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	c := &cmdContext{
		Config:      config.Default(),
		Source:      src,
		Destination: dst,
		Store:       st,
		Logger:      newLogger(io.Discard),
	}
	t.Cleanup(c.Close)
	return c, src, dst
}

func TestMigrate_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		setup   func(dst *remote.MockClient)
		want    int
		wantRun bool
	}{
		{name: "success", want: 0, wantRun: true},
		{
			name:    "failed batch",
			flags:   map[string]string{"retry-count": "0"},
			setup:   func(dst *remote.MockClient) { dst.FailJobs = 1 },
			want:    2,
			wantRun: true,
		},
		{
			name:    "types unreadable",
			setup:   func(dst *remote.MockClient) { dst.Failures["GetMigrationTypes"] = 1 },
			want:    1,
			wantRun: true,
		},
		{
			name:  "invalid batch size",
			flags: map[string]string{"batch-size": "0"},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, dst := newMigrateTestContext(t)
			if tt.setup != nil {
				tt.setup(dst)
			}
			cmd := newMigrateTestCommand(t)
			require.NoError(t, cmd.Flags().Set("quiet", "true"))
			for k, v := range tt.flags {
				require.NoError(t, cmd.Flags().Set(k, v))
			}

			assert.Equal(t, tt.want, migrate(cmd, c))

			runs, err := c.Store.ListRuns(10)
			require.NoError(t, err, "history stays open after migrate returns")
			if tt.wantRun {
				assert.Len(t, runs, 1)
			} else {
				assert.Empty(t, runs)
			}
		})
	}
}
