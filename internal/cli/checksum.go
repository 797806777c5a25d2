package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/core"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/spf13/cobra"
)

var checksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Compare range checksums of one type on both stacks",
	Long: `Compare the checksums of an id range of one type on both stacks.

Without --min/--max the whole id range of the type on either stack is used.
With --range-size the range is split and only differing sub-ranges are printed.

Examples:
  stackmig checksum --type USER
  stackmig checksum --type USER --min 1 --max 100000 --range-size 10000`,
	Run: runChecksum,
}

var (
	checksumType      string
	checksumMin       int64
	checksumMax       int64
	checksumRangeSize int64
	checksumRemote    bool
)

func init() {
	checksumCmd.Flags().StringVar(&checksumType, "type", "", "Migration type")
	checksumCmd.Flags().Int64Var(&checksumMin, "min", 0, "Lowest id of the range")
	checksumCmd.Flags().Int64Var(&checksumMax, "max", 0, "Highest id of the range")
	checksumCmd.Flags().Int64Var(&checksumRangeSize, "range-size", 0, "Split the range into sub-ranges of this many ids")
	checksumCmd.Flags().BoolVar(&checksumRemote, "remote", false, "Let each stack compute its checksum server-side")
	checksumCmd.MarkFlagRequired("type")
}

func runChecksum(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()
	t := models.MigrationType(checksumType)

	minID, maxID := checksumMin, checksumMax
	if !cmd.Flags().Changed("min") || !cmd.Flags().Changed("max") {
		lo, hi, ok, err := core.TypeIDRange(ctx, c.Source, c.Destination, t)
		if err != nil {
			exitError("%v", err)
		}
		if !ok {
			fmt.Printf("%s is empty on both stacks\n", t)
			return
		}
		if !cmd.Flags().Changed("min") {
			minID = lo
		}
		if !cmd.Flags().Changed("max") {
			maxID = hi
		}
	}

	verifier := core.NewChecksumVerifier(c.Source, c.Destination, c.Config.Migration.BatchSize)
	verifier.Remote = checksumRemote || c.Config.Migration.RemoteChecksum

	results, err := verifier.VerifyRanges(ctx, t, minID, maxID, checksumRangeSize)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	mismatched := 0
	for _, r := range results {
		if r.Match() {
			continue
		}
		mismatched++
		red.Printf("ids %d-%d differ: source %s, destination %s\n", r.MinID, r.MaxID, r.Source, r.Destination)
	}
	if mismatched > 0 {
		exitError("%s ids %d-%d: %d range(s) differ", t, minID, maxID, mismatched)
	}
	green.Printf("%s ids %d-%d match\n", t, minID, maxID)
}
