package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/stackmig/internal/core"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show or change the availability of a stack",
	Long: `Show the status of both stacks, or change the status of one.

Examples:
  stackmig status get
  stackmig status set READ_ONLY --message "maintenance"
  stackmig status set READ_WRITE --stack source`,
}

var statusGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the status of both stacks",
	Args:  cobra.NoArgs,
	Run:   runStatusGet,
}

var statusSetCmd = &cobra.Command{
	Use:       "set <READ_WRITE|READ_ONLY|DOWN>",
	Short:     "Change the status of one stack",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.StatusReadWrite), string(models.StatusReadOnly), string(models.StatusDown)},
	Run:       runStatusSet,
}

var (
	statusStack   string
	statusMessage string
)

func init() {
	statusSetCmd.Flags().StringVar(&statusStack, "stack", "destination", "Stack to change (source or destination)")
	statusSetCmd.Flags().StringVarP(&statusMessage, "message", "m", "", "Message shown while the status is in effect")
	statusCmd.AddCommand(statusGetCmd)
	statusCmd.AddCommand(statusSetCmd)
}

func statusColor(s models.StatusType) *color.Color {
	switch s {
	case models.StatusReadWrite:
		return color.New(color.FgGreen)
	case models.StatusReadOnly:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func printStatus(name string, status *models.StackStatus) {
	fmt.Printf("%-12s ", name+":")
	statusColor(status.Status).Print(status.Status)
	if status.CurrentMessage != "" {
		fmt.Printf("  %s", status.CurrentMessage)
	}
	fmt.Println()
}

func runStatusGet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	for _, side := range []struct {
		name   string
		client remote.AdminClient
	}{{"source", c.Source}, {"destination", c.Destination}} {
		status, err := core.GetStatus(ctx, side.client)
		if err != nil {
			exitError("%s: %v", side.name, err)
		}
		printStatus(side.name, status)
	}
}

func runStatusSet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var client remote.AdminClient
	switch statusStack {
	case "source":
		client = c.Source
	case "destination":
		client = c.Destination
	default:
		exitError("--stack must be 'source' or 'destination', got %q", statusStack)
	}

	status := models.StatusType(strings.ToUpper(args[0]))
	got, err := core.SetStatus(context.Background(), client, status, statusMessage)
	if err != nil {
		exitError("%v", err)
	}
	printStatus(statusStack, got)
}
