package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canvass-ai/canvass/pkg/audit"
	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/corpus"
	"github.com/canvass-ai/canvass/pkg/llm"
	"github.com/canvass-ai/canvass/pkg/models"
)

// Runner executes the four pipeline stages in order: extract, aggregate,
// synthesize, program analysis. Stages run strictly sequentially; a
// stage only starts once its predecessor has committed all artifacts and
// audit records.
type Runner struct {
	cfg      *config.Config
	invoker  *llm.Invoker
	recorder *audit.Recorder
	writer   *Writer
	runID    string
	log      *zap.Logger
	now      func() time.Time
}

// NewRunner wires a Runner for one run.
func NewRunner(cfg *config.Config, invoker *llm.Invoker, recorder *audit.Recorder, writer *Writer, runID string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		invoker:  invoker,
		recorder: recorder,
		writer:   writer,
		runID:    runID,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func aggregateID(questionID, runID string) string {
	return "agg-" + questionID + "-" + runID
}

func programID(name string) string {
	return "prog-" + slug(name)
}

// Run executes the pipeline over the corpus and returns the run summary.
// Per-response extraction failures are reported in the summary, not
// returned as errors; the error return is for conditions that abort the
// run.
func (r *Runner) Run(ctx context.Context, c *corpus.Corpus) (*models.RunSummary, error) {
	started := r.now()
	r.log.Info("run started",
		zap.String("run_id", r.runID),
		zap.Int("questions", len(c.Questions)),
		zap.Int("responses", len(c.Responses)))

	extractor := NewExtractor(r.invoker, r.recorder, r.runID,
		r.cfg.Pipeline.Workers, r.cfg.Pipeline.OnRefusal, r.log)
	extracted, err := extractor.Extract(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("extract stage: %w", err)
	}

	aggregates, err := r.aggregate(ctx, c, extracted)
	if err != nil {
		return nil, fmt.Errorf("aggregate stage: %w", err)
	}

	if err := r.synthesize(ctx, aggregates); err != nil {
		return nil, fmt.Errorf("synthesize stage: %w", err)
	}

	if err := r.analyzePrograms(ctx, c, extracted); err != nil {
		return nil, fmt.Errorf("program stage: %w", err)
	}

	stages, err := r.recorder.Summary(ctx, r.runID)
	if err != nil {
		return nil, fmt.Errorf("run summary: %w", err)
	}
	summary := models.RunSummary{
		RunID:      r.runID,
		StartedAt:  started,
		FinishedAt: r.now(),
		Stages:     stages,
	}
	if err := r.writer.WriteRunSummary(summary); err != nil {
		return nil, err
	}

	r.log.Info("run finished",
		zap.String("run_id", r.runID),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return &summary, nil
}

// aggregate builds and persists one aggregate per catalog question, in
// catalog order. Questions with zero usable responses still get an
// aggregate so the absence is visible downstream.
func (r *Runner) aggregate(ctx context.Context, c *corpus.Corpus, extracted *ExtractResult) ([]models.QuestionAggregate, error) {
	agg := &Aggregator{
		TopThemes:      r.cfg.Pipeline.TopThemes,
		QuotesPerTheme: r.cfg.Pipeline.QuotesPerTheme,
	}

	var aggregates []models.QuestionAggregate
	for _, q := range c.Questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		texts := make(map[string]string)
		for _, resp := range c.ResponsesFor(q.ID) {
			texts[resp.ResponseID] = resp.Text
		}

		features := extracted.Features[q.ID]
		a := agg.Aggregate(q.ID, r.runID, features, texts,
			extracted.Failed[q.ID], extracted.Skipped[q.ID], r.now())

		inputIDs := make([]string, 0, len(features))
		for _, f := range features {
			inputIDs = append(inputIDs, featureID(f.ResponseID))
		}
		if err := r.record(ctx, models.StageAggregate, inputIDs, aggregateID(q.ID, r.runID)); err != nil {
			return nil, err
		}
		if err := r.writer.WriteAggregate(a); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, nil
}

// synthesize derives and persists cross-question insights.
func (r *Runner) synthesize(ctx context.Context, aggregates []models.QuestionAggregate) error {
	insights := Synthesize(aggregates)
	for _, in := range insights {
		inputIDs := make([]string, 0, len(in.SupportingQuestionIDs))
		for _, qid := range in.SupportingQuestionIDs {
			inputIDs = append(inputIDs, aggregateID(qid, r.runID))
		}
		if err := r.record(ctx, models.StageSynthesize, inputIDs, in.InsightID); err != nil {
			return err
		}
	}
	return r.writer.WriteInsights(insights)
}

// analyzePrograms attributes responses to the configured programs and
// persists one insight per mentioned program. With no programs
// configured the stage is a no-op.
func (r *Runner) analyzePrograms(ctx context.Context, c *corpus.Corpus, extracted *ExtractResult) error {
	if len(r.cfg.Programs) == 0 {
		return nil
	}

	matcher, err := NewMatcher(r.cfg.Programs, r.cfg.Matching)
	if err != nil {
		return err
	}

	features := make(map[string]models.ResponseFeatures)
	for _, fs := range extracted.Features {
		for _, f := range fs {
			features[f.ResponseID] = f
		}
	}

	insights := AnalyzePrograms(matcher, c.Responses, features, r.cfg.Pipeline.QuotesPerTheme)
	for _, in := range insights {
		if err := r.record(ctx, models.StageProgram, in.ResponseIDs, programID(in.ProgramName)); err != nil {
			return err
		}
		if err := r.writer.WriteProgram(in); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) record(ctx context.Context, stage models.Stage, inputIDs []string, outputID string) error {
	_, err := r.recorder.Record(ctx, models.AuditRecord{
		RunID:    r.runID,
		Stage:    stage,
		InputIDs: inputIDs,
		OutputID: outputID,
		Status:   models.AuditSuccess,
	})
	if err != nil {
		return fmt.Errorf("audit persist: %w", err)
	}
	return nil
}
