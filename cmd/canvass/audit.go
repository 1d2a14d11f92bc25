package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canvass-ai/canvass/pkg/audit"
	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/models"
)

func newAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the lineage log",
	}

	var (
		runID  string
		stage  string
		status string
		limit  int
	)
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "List audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			recs, err := recorder.Query(cmd.Context(), models.AuditQueryOpts{
				RunID:  runID,
				Stage:  models.Stage(stage),
				Status: models.AuditStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No audit records found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTAGE\tSTATUS\tOUTPUT\tINPUTS\tDETAIL")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format("2006-01-02T15:04:05"), r.Stage, r.Status,
					r.OutputID, strings.Join(r.InputIDs, ","), r.Detail)
			}
			return w.Flush()
		},
	}
	queryCmd.Flags().StringVar(&runID, "run-id", "", "filter by run id")
	queryCmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	queryCmd.Flags().StringVar(&status, "status", "", "filter by status")
	queryCmd.Flags().IntVar(&limit, "limit", 100, "max records")

	traceCmd := &cobra.Command{
		Use:   "trace <output-id>",
		Short: "Trace a derived record back to its raw responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			lineage, err := recorder.Trace(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tSTATUS\tOUTPUT\tINPUTS")
			for _, r := range lineage.Records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Stage, r.Status, r.OutputID, strings.Join(r.InputIDs, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nRaw responses: %s\n", strings.Join(lineage.RawIDs, ", "))
			return nil
		},
	}

	var summaryRunID string
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Per-stage outcome counts for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			stages, err := recorder.Summary(cmd.Context(), summaryRunID)
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				fmt.Println("No records for run.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tPROCESSED\tCACHED\tSKIPPED\tFAILED")
			for _, s := range stages {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
					s.Stage, s.Processed, s.Cached, s.Skipped, s.Failed)
			}
			return w.Flush()
		},
	}
	summaryCmd.Flags().StringVar(&summaryRunID, "run-id", "", "run id")
	_ = summaryCmd.MarkFlagRequired("run-id")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "canvass.yaml", "path to config file")
	cmd.AddCommand(queryCmd, traceCmd, summaryCmd)
	return cmd
}

// newLineageCmd is a top-level shortcut for `audit trace`.
func newLineageCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "lineage <output-id>",
		Short: "Trace a derived record back to its raw responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			lineage, err := recorder.Trace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tSTATUS\tOUTPUT\tINPUTS")
			for _, r := range lineage.Records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Stage, r.Status, r.OutputID, strings.Join(r.InputIDs, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nRaw responses: %s\n", strings.Join(lineage.RawIDs, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "canvass.yaml", "path to config file")
	return cmd
}

func openRecorder(configPath string) (*audit.Recorder, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return audit.New(cfg.AuditDBPath)
}
