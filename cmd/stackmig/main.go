// Command stackmig migrates data between two stacks through their admin APIs.
package main

import (
	"os"

	"github.com/kilupskalvis/stackmig/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
