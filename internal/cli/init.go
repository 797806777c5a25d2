package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/config"
	"github.com/kilupskalvis/stackmig/internal/core"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/kilupskalvis/stackmig/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a stackmig.toml in the current directory",
	Long: `Create a stackmig.toml in the current directory pointing at a source
and a destination stack, and an empty run history under .stackmig/.

Both stacks are contacted once to check that their admin APIs answer.
Tokens are best supplied through STACKMIG_SOURCE_TOKEN and
STACKMIG_DESTINATION_TOKEN rather than stored in the file.`,
	Run: runInit,
}

var (
	initSource      string
	initDestination string
)

func init() {
	initCmd.Flags().StringVar(&initSource, "source", "", "Source stack URL")
	initCmd.Flags().StringVar(&initDestination, "destination", "", "Destination stack URL")
	initCmd.MarkFlagRequired("source")
	initCmd.MarkFlagRequired("destination")
}

func runInit(cmd *cobra.Command, args []string) {
	dir, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg, err := config.Initialize(dir, initSource, initDestination)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		os.Remove(cfg.Path())
		exitError("invalid config: %v", err)
	}

	st, err := store.Open(cfg.HistoryDatabasePath())
	if err != nil {
		exitError("failed to create history: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	yellow := color.New(color.FgYellow)
	for _, side := range []struct {
		name string
		ep   config.Endpoint
	}{{"source", cfg.Source}, {"destination", cfg.Destination}} {
		client := remote.NewHTTPClient(side.ep.URL, side.ep.Token, 0)
		status, err := core.GetStatus(ctx, client)
		if err != nil {
			yellow.Printf("Warning: could not reach %s stack at %s: %v\n", side.name, side.ep.URL, err)
			continue
		}
		fmt.Printf("%-12s %s (%s)\n", side.name+":", side.ep.URL, status.Status)
	}

	fmt.Printf("\nWrote %s\n", cfg.Path())
	fmt.Printf("Run 'stackmig counts' to compare the stacks, 'stackmig migrate' to migrate.\n")
}
