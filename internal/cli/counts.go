package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Compare per-type row counts of both stacks",
	Long:  `Print the row count and id bounds of every migration type on the source and destination stacks.`,
	Run:   runCounts,
}

func runCounts(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var src, dst []*models.TypeCount
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		src, err = c.Source.GetTypeCounts(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		dst, err = c.Destination.GetTypeCounts(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		exitError("%v", err)
	}

	dstByType := make(map[models.MigrationType]*models.TypeCount, len(dst))
	for _, tc := range dst {
		dstByType[tc.Type] = tc
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Printf("%-24s %14s %14s  %s\n", "TYPE", "SOURCE", "DESTINATION", "IDS (SOURCE)")
	for _, s := range src {
		d := dstByType[s.Type]
		var dstCount int64
		if d != nil {
			dstCount = d.Count
		}

		line := fmt.Sprintf("%-24s %14s %14s  %s", s.Type,
			humanize.Comma(s.Count), humanize.Comma(dstCount), idBounds(s))
		if s.Count == dstCount {
			green.Println(line)
		} else {
			yellow.Println(line)
		}
	}

	for _, d := range dst {
		if !containsType(src, d.Type) {
			yellow.Printf("%-24s %14s %14s  (destination only)\n", d.Type, "-", humanize.Comma(d.Count))
		}
	}
}

func idBounds(tc *models.TypeCount) string {
	if tc.Empty() {
		return "-"
	}
	return fmt.Sprintf("%d..%d", tc.MinID, tc.MaxID)
}

func containsType(list []*models.TypeCount, t models.MigrationType) bool {
	for _, tc := range list {
		if tc.Type == t {
			return true
		}
	}
	return false
}
