package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "canvass",
		Short:   "Canvass — multi-pass survey analysis pipeline",
		Version: version,
	}

	root.AddCommand(
		newRunCmd(),
		newLineageCmd(),
		newAuditCmd(),
		newCacheCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
