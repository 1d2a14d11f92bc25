package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/canvass-ai/canvass/pkg/budget"
	cachepkg "github.com/canvass-ai/canvass/pkg/cache/sqlite"
	"github.com/canvass-ai/canvass/pkg/models"
	"github.com/canvass-ai/canvass/pkg/usage"
)

// Status classifies how an invocation was satisfied.
type Status string

const (
	StatusCached Status = "cached"
	StatusCalled Status = "called"
)

// PromptSpec is one fully-specified LLM input. QuestionContext and
// ResponseText feed the cache key together with the template id and
// model, so a changed prompt or corpus line never reuses a stale entry.
type PromptSpec struct {
	TemplateID      string
	System          string
	User            string
	QuestionContext string
	ResponseText    string
}

// Outcome describes a completed invocation.
type Outcome struct {
	Status   Status
	CacheKey string
	Raw      []byte
	Usage    *models.Usage
}

// Options carries the per-run invocation parameters. Everything is an
// explicit argument; the invoker reads no ambient state.
type Options struct {
	Model            string
	RunID            string
	Temperature      float64
	MaxTokens        int
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RefusalSentinels []string
}

// Invoker wraps a single LLM call with cache lookup, schema-validated
// output, bounded retry and refusal detection. It guarantees at most one
// successful external call per distinct cache key: durably across runs
// via the cache, and across concurrent callers via singleflight.
type Invoker struct {
	client   Client
	cache    *cachepkg.Cache
	tracker  usage.Tracker
	enforcer *budget.Enforcer
	opts     Options
	group    singleflight.Group
	log      *zap.Logger
}

// NewInvoker wires an Invoker. tracker and enforcer may be nil.
func NewInvoker(client Client, cache *cachepkg.Cache, tracker usage.Tracker, enforcer *budget.Enforcer, opts Options, log *zap.Logger) *Invoker {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		client:   client,
		cache:    cache,
		tracker:  tracker,
		enforcer: enforcer,
		opts:     opts,
		log:      log,
	}
}

const correctiveInstruction = "Your previous reply did not match the required JSON schema. " +
	"Reply again with ONLY a valid JSON object that conforms exactly to the schema. " +
	"No markdown fences, no commentary."

// Invoke satisfies one structured request. On a cache hit the stored
// output is validated and returned without any external call. On a miss
// exactly one external call is made per distinct key, validated against
// out's schema, and stored before returning.
func (iv *Invoker) Invoke(ctx context.Context, spec PromptSpec, out models.Validator) (*Outcome, error) {
	key := cachepkg.Key(spec.TemplateID, spec.QuestionContext, spec.ResponseText, iv.opts.Model)

	entry, hit, err := iv.cache.Lookup(key)
	if err != nil {
		return nil, err
	}
	if hit {
		if err := decodeInto(entry.Output, out); err != nil {
			return nil, &SchemaValidationError{RawOutput: entry.Output, Err: err}
		}
		iv.log.Debug("cache hit", zap.String("key", key))
		return &Outcome{Status: StatusCached, CacheKey: key, Raw: entry.Output}, nil
	}

	type callResult struct {
		raw    []byte
		usage  *models.Usage
		cached bool
	}

	v, err, shared := iv.group.Do(key, func() (any, error) {
		// Another writer may have stored the entry between our lookup
		// and here; a second lookup keeps the external call count at one.
		if entry, hit, err := iv.cache.Lookup(key); err != nil {
			return nil, err
		} else if hit {
			if err := decodeInto(entry.Output, out); err != nil {
				return nil, &SchemaValidationError{RawOutput: entry.Output, Err: err}
			}
			return callResult{raw: entry.Output, cached: true}, nil
		}

		raw, u, err := iv.call(ctx, spec, key, out)
		if err != nil {
			return nil, err
		}
		if err := iv.cache.Store(key, spec.TemplateID, iv.opts.Model, raw); err != nil {
			return nil, err
		}
		return callResult{raw: raw, usage: u}, nil
	})
	if err != nil {
		return nil, err
	}

	res := v.(callResult)
	if shared {
		// Waiters validate the shared bytes into their own target.
		if err := decodeInto(res.raw, out); err != nil {
			return nil, &SchemaValidationError{RawOutput: res.raw, Err: err}
		}
	}
	status := StatusCalled
	if res.cached {
		status = StatusCached
	}
	return &Outcome{Status: status, CacheKey: key, Raw: res.raw, Usage: res.usage}, nil
}

// call performs the external invocation with retry, refusal detection
// and one corrective schema retry. It returns validated raw JSON.
func (iv *Invoker) call(ctx context.Context, spec PromptSpec, key string, out models.Validator) ([]byte, *models.Usage, error) {
	if err := iv.enforcer.Check(ctx, iv.opts.RunID); err != nil {
		return nil, nil, err
	}

	messages := []models.ChatMessage{
		{Role: "system", Content: spec.System},
		{Role: "user", Content: spec.User},
	}

	resp, err := iv.completeWithRetry(ctx, messages)
	if err != nil {
		return nil, nil, err
	}
	iv.recordUsage(ctx, key, resp)

	if reason := iv.refusalReason(resp); reason != "" {
		return nil, nil, &RefusalError{Reason: reason}
	}

	raw := []byte(cleanJSON(resp.Content()))
	if err := decodeInto(raw, out); err == nil {
		return raw, resp.Usage, nil
	} else {
		iv.log.Warn("schema violation, issuing corrective retry",
			zap.String("key", key), zap.Error(err))
	}

	// One corrective retry with the invalid reply in context, then fail
	// permanently. Blind re-asking would just re-pay for the same answer.
	corrective := append(messages,
		models.ChatMessage{Role: "assistant", Content: resp.Content()},
		models.ChatMessage{Role: "user", Content: correctiveInstruction},
	)
	resp2, err := iv.completeWithRetry(ctx, corrective)
	if err != nil {
		return nil, nil, err
	}
	iv.recordUsage(ctx, key, resp2)

	if reason := iv.refusalReason(resp2); reason != "" {
		return nil, nil, &RefusalError{Reason: reason}
	}

	raw2 := []byte(cleanJSON(resp2.Content()))
	if err := decodeInto(raw2, out); err != nil {
		return nil, nil, &SchemaValidationError{RawOutput: raw2, Err: err}
	}
	return raw2, resp2.Usage, nil
}

// completeWithRetry issues the call with exponential backoff on
// transient failures. Exhausted retries escalate to permanent.
func (iv *Invoker) completeWithRetry(ctx context.Context, messages []models.ChatMessage) (*models.ChatResponse, error) {
	req := models.ChatRequest{
		Model:          iv.opts.Model,
		Messages:       messages,
		Temperature:    &iv.opts.Temperature,
		ResponseFormat: &models.ResponseFormat{Type: "json_object"},
	}
	if iv.opts.MaxTokens > 0 {
		req.MaxTokens = &iv.opts.MaxTokens
	}

	var lastErr error
	for attempt := 1; attempt <= iv.opts.RetryAttempts; attempt++ {
		resp, err := iv.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if attempt == iv.opts.RetryAttempts {
			break
		}

		delay := iv.opts.RetryBaseDelay << (attempt - 1)
		iv.log.Warn("transient failure, backing off",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", iv.opts.RetryAttempts, lastErr)
}

// refusalReason returns a non-empty reason if the response is an
// explicit refusal: either the protocol-level refusal field or a
// configured sentinel prefix in the content.
func (iv *Invoker) refusalReason(resp *models.ChatResponse) string {
	if r := resp.Refusal(); r != "" {
		return r
	}
	content := strings.ToLower(strings.TrimSpace(resp.Content()))
	for _, s := range iv.opts.RefusalSentinels {
		if s != "" && strings.HasPrefix(content, strings.ToLower(s)) {
			return resp.Content()
		}
	}
	return ""
}

func (iv *Invoker) recordUsage(ctx context.Context, key string, resp *models.ChatResponse) {
	if iv.tracker == nil || resp.Usage == nil {
		return
	}
	err := iv.tracker.Record(ctx, models.UsageRecord{
		CacheKey:         key,
		RunID:            iv.opts.RunID,
		Model:            iv.opts.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	})
	if err != nil {
		iv.log.Warn("usage record failed", zap.Error(err))
	}
}

// decodeInto unmarshals raw JSON into out and runs its schema checks.
func decodeInto(raw []byte, out models.Validator) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	return out.Validate()
}

// cleanJSON strips markdown code fences some models wrap around JSON.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
