package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/core"
	"github.com/kilupskalvis/stackmig/internal/metrics"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate every type from the source stack to the destination stack",
	Long: `Migrate every migration type from the source stack to the destination.

The destination is switched to READ_ONLY for the duration of the run and
restored to READ_WRITE afterwards, even when the run fails. Rows are deleted
in reverse type order, then created and updated in type order through
backup/restore jobs, and every type is verified with range checksums.

Flags override the values in stackmig.toml.

Examples:
  stackmig migrate
  stackmig migrate --batch-size 1000 --retry-count 5
  stackmig migrate --delete-only
  stackmig migrate --metrics-addr :9464`,
	Run: runMigrate,
}

var (
	migrateBatchSize         int64
	migrateMaxWait           time.Duration
	migrateRetryCount        int
	migrateDeleteOnly        bool
	migrateChecksumRangeSize int64
	migrateRemoteChecksum    bool
	migrateMetricsAddr       string
	migrateQuiet             bool
)

func init() {
	registerMigrateFlags(migrateCmd)
}

func registerMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&migrateBatchSize, "batch-size", core.DefaultBatchSize, "Rows per page, backup/restore batch and delete batch")
	cmd.Flags().DurationVar(&migrateMaxWait, "max-wait", 30*time.Minute, "Maximum time to wait for one backup or restore job")
	cmd.Flags().IntVar(&migrateRetryCount, "retry-count", core.DefaultRetryCount, "Retries per type and per batch")
	cmd.Flags().BoolVar(&migrateDeleteOnly, "delete-only", false, "Only delete rows missing from the source")
	cmd.Flags().Int64Var(&migrateChecksumRangeSize, "checksum-range-size", 0, "Verify in id ranges of this size (0 verifies each type as one range)")
	cmd.Flags().BoolVar(&migrateRemoteChecksum, "remote-checksum", false, "Let each stack compute checksums server-side")
	cmd.Flags().StringVar(&migrateMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVarP(&migrateQuiet, "quiet", "q", false, "Do not print progress")
}

// migrateOptions merges the config file with explicitly set flags.
func migrateOptions(cmd *cobra.Command, c *cmdContext) core.MigrateOptions {
	m := c.Config.Migration
	opts := core.MigrateOptions{
		BatchSize:         m.BatchSize,
		MaxWait:           time.Duration(m.MaxWait),
		RetryCount:        m.RetryCount,
		ChecksumRangeSize: m.ChecksumRangeSize,
		RemoteChecksum:    m.RemoteChecksum,
		SpoolDir:          os.Getenv("STACKMIG_SPOOL_DIR"),
	}

	flags := cmd.Flags()
	if flags.Changed("batch-size") {
		opts.BatchSize = migrateBatchSize
	}
	if flags.Changed("max-wait") {
		opts.MaxWait = migrateMaxWait
	}
	if flags.Changed("retry-count") {
		opts.RetryCount = migrateRetryCount
	}
	if flags.Changed("checksum-range-size") {
		opts.ChecksumRangeSize = migrateChecksumRangeSize
	}
	if flags.Changed("remote-checksum") {
		opts.RemoteChecksum = migrateRemoteChecksum
	}
	opts.DeleteOnly = migrateDeleteOnly
	return opts
}

func runMigrate(cmd *cobra.Command, args []string) {
	c := initContextWithStore()
	code := migrate(cmd, c)
	c.Close()
	if code != 0 {
		os.Exit(code)
	}
}

// migrate runs one migration and returns the process exit code:
// 1 when the run could not complete, 2 when a type failed or a checksum mismatched.
func migrate(cmd *cobra.Command, c *cmdContext) int {
	opts := migrateOptions(cmd, c)
	if opts.BatchSize <= 0 {
		return reportError("batch size must be positive")
	}
	if opts.RetryCount < 0 {
		return reportError("retry count must not be negative")
	}

	if migrateMetricsAddr != "" {
		exporter := metrics.NewExporter(migrateMetricsAddr)
		go func() {
			if err := exporter.Start(); err != nil {
				c.Logger.Error("metrics exporter failed", "addr", migrateMetricsAddr, "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			exporter.Stop(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc := core.NewMigrationClient(c.Source, c.Destination)
	mc.Logger = c.Logger
	if !migrateQuiet {
		mc.Progress = printProgress
	}

	mode := "Migrating"
	if opts.DeleteOnly {
		mode = "Deleting (delete only)"
	}
	fmt.Printf("%s %s -> %s\n", mode, c.Config.Source.URL, c.Config.Destination.URL)

	result, err := mc.MigrateAllTypes(ctx, opts)
	if !migrateQuiet {
		fmt.Println() // newline after progress
	}

	if result != nil {
		if serr := c.Store.SaveRun(result); serr != nil {
			c.Logger.Warn("failed to record run", "error", serr)
		}
		printRunResult(result)
	}
	if err != nil {
		return reportError("%v", err)
	}
	if !result.Succeeded() {
		return 2
	}
	return 0
}

func printProgress(phase string, t models.MigrationType, current, total int64) {
	switch {
	case phase == "replay":
		fmt.Printf("\r\033[K  replay: next change %s", humanize.Comma(current))
	case total > 0:
		fmt.Printf("\r\033[K  %s %s %s/%s", phase, t, humanize.Comma(current), humanize.Comma(total))
	default:
		fmt.Printf("\r\033[K  %s %s", phase, t)
	}
}

func printRunResult(run *models.RunResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	// One delete pass and one copy pass per type.
	nominal := 2
	if run.DeleteOnly {
		nominal = 1
	}

	fmt.Printf("\nRun %s (%s)\n", shortID(run.ID), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	for _, tr := range run.Types {
		fmt.Printf("  %-24s ", tr.Type)
		fmt.Printf("+%s ~%s -%s",
			humanize.Comma(tr.Counts.Create),
			humanize.Comma(tr.Counts.Update),
			humanize.Comma(tr.Counts.Delete))
		if tr.Attempts > nominal {
			yellow.Printf("  (%d attempts)", tr.Attempts)
		}
		switch {
		case tr.Failed():
			red.Printf("  failed: %s", tr.Error)
		case len(tr.ChecksumMismatches) > 0:
			red.Printf("  %d checksum mismatch(es)", len(tr.ChecksumMismatches))
			for _, m := range tr.ChecksumMismatches {
				fmt.Printf("\n      ids %d-%d: source %s, destination %s", m.MinID, m.MaxID, m.Source, m.Destination)
			}
		case tr.ChecksumVerified:
			green.Print("  verified")
		}
		fmt.Println()
	}

	totals := run.Totals()
	fmt.Printf("\n%s created, %s updated, %s deleted",
		humanize.Comma(totals.Create), humanize.Comma(totals.Update), humanize.Comma(totals.Delete))
	if run.ReplayBatches > 0 {
		fmt.Printf(", %s change batch(es) replayed", humanize.Comma(run.ReplayBatches))
	}
	fmt.Println()

	if run.Succeeded() && totals.Total() == 0 {
		green.Println("Stacks already in sync")
	} else if run.Succeeded() {
		green.Println("Migration succeeded")
	} else {
		red.Println("Migration finished with errors")
	}
}
