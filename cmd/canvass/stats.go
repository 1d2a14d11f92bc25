package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canvass-ai/canvass/pkg/budget"
	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/usage"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		runID      string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := usage.New(cfg.UsageDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			summaries, err := tr.Summary(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tCALLS\tPROMPT\tCOMPLETION\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
					s.Model, s.CallCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if runID != "" && cfg.Budget.Enabled {
				st, err := budget.New(cfg.Budget, tr).Status(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Printf("\nBudget: %d used of %d (%d remaining)\n",
					st.Used, st.Budget.MaxTotalTokens, st.Remaining)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "canvass.yaml", "path to config file")
	cmd.Flags().StringVar(&runID, "run-id", "", "filter by run id")
	return cmd
}
