package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [<run-id>]",
	Short: "Show past migration runs",
	Long: `List the migration runs recorded by 'stackmig migrate', most recent first.
With a run id (or a unique prefix of one) print that run in full.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "n", "n", 20, "Limit the number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	c := initHistoryContext()
	defer c.Close()

	if len(args) == 1 {
		run := findRun(c, args[0])
		printRunResult(run)
		return
	}

	runs, err := c.Store.ListRuns(historyLimit)
	if err != nil {
		exitError("failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet")
		return
	}

	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	for _, run := range runs {
		yellow.Printf("%s ", shortID(run.ID))
		fmt.Printf("%s  %-8s ", run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
		if run.Succeeded() {
			green.Print("ok    ")
		} else {
			red.Print("failed")
		}
		totals := run.Totals()
		fmt.Printf("  +%s ~%s -%s", humanize.Comma(totals.Create), humanize.Comma(totals.Update), humanize.Comma(totals.Delete))
		if run.DeleteOnly {
			fmt.Print("  (delete only)")
		}
		fmt.Println()
	}
}

// findRun resolves a full run id or a unique prefix of one.
func findRun(c *cmdContext, id string) *models.RunResult {
	run, err := c.Store.GetRun(id)
	if err != nil {
		exitError("failed to read run: %v", err)
	}
	if run != nil {
		return run
	}

	runs, err := c.Store.ListRuns(0)
	if err != nil {
		exitError("failed to list runs: %v", err)
	}
	var matches []*models.RunResult
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		exitError("run '%s' not found", id)
	case 1:
		return matches[0]
	default:
		exitError("run prefix '%s' is ambiguous (%d runs)", id, len(matches))
	}
	return nil
}
