package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canvass-ai/canvass/pkg/audit"
	"github.com/canvass-ai/canvass/pkg/budget"
	cachepkg "github.com/canvass-ai/canvass/pkg/cache/sqlite"
	"github.com/canvass-ai/canvass/pkg/config"
	"github.com/canvass-ai/canvass/pkg/corpus"
	"github.com/canvass-ai/canvass/pkg/llm"
	"github.com/canvass-ai/canvass/pkg/models"
)

// Extractor fans the corpus out over a bounded worker pool and turns
// each raw response into a ResponseFeatures record. Individual failures
// are recorded and skipped; the batch only aborts on refusal under the
// abort policy, on a cache conflict, or when the audit log cannot be
// written.
type Extractor struct {
	invoker   *llm.Invoker
	recorder  *audit.Recorder
	runID     string
	workers   int
	onRefusal config.RefusalPolicy
	log       *zap.Logger
}

// ExtractResult is the extraction stage output, grouped by question.
// Features preserve corpus order within each question.
type ExtractResult struct {
	Features map[string][]models.ResponseFeatures
	Failed   map[string]int
	Skipped  map[string]int
}

// NewExtractor wires an extraction stage.
func NewExtractor(invoker *llm.Invoker, recorder *audit.Recorder, runID string, workers int, onRefusal config.RefusalPolicy, log *zap.Logger) *Extractor {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		invoker:   invoker,
		recorder:  recorder,
		runID:     runID,
		workers:   workers,
		onRefusal: onRefusal,
		log:       log,
	}
}

// featureID derives the audit output id for one response's features.
func featureID(responseID string) string {
	return "feat-" + responseID
}

// Extract processes every response in the corpus. The returned error is
// non-nil only for batch-fatal conditions; ordinary per-response
// failures show up in the Failed counts and the audit log.
func (e *Extractor) Extract(ctx context.Context, c *corpus.Corpus) (*ExtractResult, error) {
	type indexed struct {
		idx      int
		features models.ResponseFeatures
	}

	var (
		mu      sync.Mutex
		done    []indexed
		failed  = make(map[string]int)
		skipped = make(map[string]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, resp := range c.Responses {
		i, resp := i, resp
		question, ok := c.QuestionByID(resp.QuestionID)
		if !ok {
			return nil, fmt.Errorf("response %s: unknown question %q", resp.ResponseID, resp.QuestionID)
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			if strings.TrimSpace(resp.Text) == "" {
				mu.Lock()
				skipped[resp.QuestionID]++
				mu.Unlock()
				return e.record(gctx, models.StageExtract, []string{resp.ResponseID}, "",
					models.AuditSkipped, "empty response text")
			}

			var features models.ResponseFeatures
			out, err := e.invoker.Invoke(gctx, llm.ExtractPrompt(question, resp.Text), &features)
			if err != nil {
				return e.handleFailure(gctx, resp, err, failed, &mu)
			}

			// The corpus is authoritative for identity fields; the model
			// only ever sees the text.
			features.ResponseID = resp.ResponseID
			features.QuestionID = resp.QuestionID
			features.CacheKey = out.CacheKey

			status := models.AuditSuccess
			if out.Status == llm.StatusCached {
				status = models.AuditCached
			}
			if err := e.record(gctx, models.StageExtract, []string{resp.ResponseID},
				featureID(resp.ResponseID), status, ""); err != nil {
				return err
			}

			mu.Lock()
			done = append(done, indexed{idx: i, features: features})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(done, func(a, b int) bool { return done[a].idx < done[b].idx })

	result := &ExtractResult{
		Features: make(map[string][]models.ResponseFeatures),
		Failed:   failed,
		Skipped:  skipped,
	}
	for _, d := range done {
		result.Features[d.features.QuestionID] = append(result.Features[d.features.QuestionID], d.features)
	}
	return result, nil
}

// handleFailure classifies one response's error. Refusals follow the
// configured policy; cache conflicts are always fatal; everything else
// fails just that response.
func (e *Extractor) handleFailure(ctx context.Context, resp models.RawResponse, err error, failed map[string]int, mu *sync.Mutex) error {
	var refusal *llm.RefusalError
	if errors.As(err, &refusal) {
		if e.onRefusal == config.RefusalAbort {
			return fmt.Errorf("response %s refused: %w", resp.ResponseID, err)
		}
		// Under the skip policy a refusal still counts as a failure;
		// skipped is reserved for empty input.
		mu.Lock()
		failed[resp.QuestionID]++
		mu.Unlock()
		e.log.Warn("extraction refused, continuing",
			zap.String("response_id", resp.ResponseID))
		return e.record(ctx, models.StageExtract, []string{resp.ResponseID}, "",
			models.AuditFailure, "refused: "+refusal.Reason)
	}

	if isFatal(err) {
		return fmt.Errorf("response %s: %w", resp.ResponseID, err)
	}

	mu.Lock()
	failed[resp.QuestionID]++
	mu.Unlock()
	e.log.Warn("extraction failed",
		zap.String("response_id", resp.ResponseID), zap.Error(err))
	return e.record(ctx, models.StageExtract, []string{resp.ResponseID}, "",
		models.AuditFailure, err.Error())
}

// isFatal reports whether an error must abort the whole batch instead of
// failing one response. Cache conflicts indicate a correctness bug and a
// spent budget blocks every remaining call, so neither is worth limping
// through.
func isFatal(err error) bool {
	var conflict *cachepkg.ConflictError
	if errors.As(err, &conflict) {
		return true
	}
	if errors.Is(err, budget.ErrBudgetExceeded) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// record appends one audit entry. A persist failure is always fatal: a
// result that cannot be traced must not exist.
func (e *Extractor) record(ctx context.Context, stage models.Stage, inputIDs []string, outputID string, status models.AuditStatus, detail string) error {
	_, err := e.recorder.Record(ctx, models.AuditRecord{
		RunID:    e.runID,
		Stage:    stage,
		InputIDs: inputIDs,
		OutputID: outputID,
		Status:   status,
		Detail:   detail,
	})
	if err != nil {
		return fmt.Errorf("audit persist: %w", err)
	}
	return nil
}
