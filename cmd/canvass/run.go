package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canvass-ai/canvass/pkg/audit"
	"github.com/canvass-ai/canvass/pkg/budget"
	cachepkg "github.com/canvass-ai/canvass/pkg/cache/sqlite"
	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/corpus"
	"github.com/canvass-ai/canvass/pkg/llm"
	"github.com/canvass-ai/canvass/pkg/pipeline"
	"github.com/canvass-ai/canvass/pkg/usage"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		runID      string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis pipeline over the response corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			c, err := corpus.Load(cfg.QuestionsFile, cfg.ResponsesFile)
			if err != nil {
				return err
			}

			cache, err := cachepkg.New(cfg.CacheDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = cache.Close() }()

			recorder, err := audit.New(cfg.AuditDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			tracker, err := usage.New(cfg.UsageDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tracker.Close() }()

			client, err := llm.NewHTTPClient(cfg.API.BaseURL, cfg.API.APIKey, cfg.API.Timeout)
			if err != nil {
				return err
			}

			if runID == "" {
				runID = uuid.NewString()
			}

			invoker := llm.NewInvoker(client, cache, tracker,
				budget.New(cfg.Budget, tracker), llm.Options{
					Model:            cfg.Model,
					RunID:            runID,
					Temperature:      cfg.LLM.Temperature,
					MaxTokens:        cfg.LLM.MaxTokens,
					RetryAttempts:    cfg.LLM.RetryAttempts,
					RetryBaseDelay:   cfg.LLM.RetryBaseDelay,
					RefusalSentinels: cfg.LLM.RefusalSentinels,
				}, log)

			runner := pipeline.NewRunner(cfg, invoker, recorder,
				pipeline.NewWriter(cfg.OutputDir), runID, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runner.Run(ctx, c)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s finished in %s\n\n", summary.RunID,
				summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tPROCESSED\tCACHED\tSKIPPED\tFAILED")
			for _, s := range summary.Stages {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
					s.Stage, s.Processed, s.Cached, s.Skipped, s.Failed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "canvass.yaml", "path to config file")
	cmd.Flags().StringVar(&runID, "run-id", "", "explicit run id (default: random)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}
