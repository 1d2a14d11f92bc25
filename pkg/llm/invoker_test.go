package llm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/canvass-ai/canvass/pkg/budget"
	cachepkg "github.com/canvass-ai/canvass/pkg/cache/sqlite"
	"github.com/canvass-ai/canvass/pkg/models"
	"github.com/canvass-ai/canvass/pkg/usage"
)

const validFeatures = `{
	"response_id": "r1",
	"question_id": "q1",
	"sentiment": "positive",
	"sentiment_confidence": 0.9,
	"themes": ["funding access"],
	"urgency": "low",
	"stakeholder_type": "artist",
	"stakeholder_confidence": 0.8,
	"key_phrases": ["more grants"],
	"intent": "requests more grant funding",
	"actionable": true
}`

type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req models.ChatRequest) (*models.ChatResponse, error)
}

func (f *fakeClient) Complete(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n, req)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func chatResponse(content string) *models.ChatResponse {
	var choice models.ChatChoice
	choice.Message.Role = "assistant"
	choice.Message.Content = content
	return &models.ChatResponse{
		Choices: []models.ChatChoice{choice},
		Usage:   &models.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func refusalResponse(reason string) *models.ChatResponse {
	var choice models.ChatChoice
	choice.Message.Role = "assistant"
	choice.Message.Refusal = reason
	return &models.ChatResponse{Choices: []models.ChatChoice{choice}}
}

func newTestCache(t *testing.T) *cachepkg.Cache {
	t.Helper()
	c, err := cachepkg.New(filepath.Join(t.TempDir(), "cache_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testOptions() Options {
	return Options{
		Model:          "gpt-4.1",
		RunID:          "run-test",
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}
}

func testSpec() PromptSpec {
	return ExtractPrompt(models.Question{
		ID:     "q1",
		Text:   "What would improve cultural funding in your community?",
		Intent: "surface funding gaps",
	}, "We need more grants for small venues.")
}

func TestInvokeCallsThenCaches(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return chatResponse(validFeatures), nil
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var first models.ResponseFeatures
	out, err := iv.Invoke(context.Background(), testSpec(), &first)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCalled {
		t.Errorf("expected called, got %s", out.Status)
	}
	if first.Sentiment != models.SentimentPositive {
		t.Errorf("unexpected sentiment %q", first.Sentiment)
	}

	var second models.ResponseFeatures
	out2, err := iv.Invoke(context.Background(), testSpec(), &second)
	if err != nil {
		t.Fatal(err)
	}
	if out2.Status != StatusCached {
		t.Errorf("expected cached, got %s", out2.Status)
	}
	if out2.CacheKey != out.CacheKey {
		t.Errorf("cache key changed between identical invocations")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("expected exactly 1 external call, got %d", got)
	}
}

func TestInvokeRetriesTransient(t *testing.T) {
	client := &fakeClient{fn: func(call int, _ models.ChatRequest) (*models.ChatResponse, error) {
		if call < 3 {
			return nil, &HTTPError{StatusCode: 503, Body: "overloaded"}
		}
		return chatResponse(validFeatures), nil
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	if _, err := iv.Invoke(context.Background(), testSpec(), &feats); err != nil {
		t.Fatalf("expected recovery after transient failures, got %v", err)
	}
	if got := client.callCount(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestInvokeTransientExhausted(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return nil, &HTTPError{StatusCode: 429, Body: "rate limited"}
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	_, err := iv.Invoke(context.Background(), testSpec(), &feats)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected wrapped HTTPError, got %v", err)
	}
	if got := client.callCount(); got != 3 {
		t.Errorf("expected all 3 attempts used, got %d", got)
	}
}

func TestInvokeNonTransientFailsFast(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return nil, &HTTPError{StatusCode: 401, Body: "bad key"}
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	if _, err := iv.Invoke(context.Background(), testSpec(), &feats); err == nil {
		t.Fatal("expected error")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("auth failures must not be retried, got %d calls", got)
	}
}

func TestInvokeCorrectiveRetryRecovers(t *testing.T) {
	client := &fakeClient{fn: func(call int, req models.ChatRequest) (*models.ChatResponse, error) {
		if call == 1 {
			return chatResponse(`{"sentiment": "enthusiastic"}`), nil
		}
		// The corrective turn must carry the invalid reply back.
		if len(req.Messages) != 4 {
			t.Errorf("expected 4 messages on corrective retry, got %d", len(req.Messages))
		}
		return chatResponse("```json\n" + validFeatures + "\n```"), nil
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	out, err := iv.Invoke(context.Background(), testSpec(), &feats)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCalled {
		t.Errorf("expected called, got %s", out.Status)
	}
	if got := client.callCount(); got != 2 {
		t.Errorf("expected original call plus one corrective, got %d", got)
	}
}

func TestInvokeSchemaFailureIsPermanent(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return chatResponse(`not json at all`), nil
	}}
	cache := newTestCache(t)
	iv := NewInvoker(client, cache, nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	_, err := iv.Invoke(context.Background(), testSpec(), &feats)
	var schemaErr *SchemaValidationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if len(schemaErr.RawOutput) == 0 {
		t.Error("offending output must be preserved for post-mortem")
	}
	if got := client.callCount(); got != 2 {
		t.Errorf("expected exactly one corrective retry, got %d calls", got)
	}

	// Invalid output must never be stored.
	stats, err := cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected empty cache, got %d entries", stats.Entries)
	}
}

func TestInvokeRefusalNotRetried(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return refusalResponse("declined to analyze"), nil
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	_, err := iv.Invoke(context.Background(), testSpec(), &feats)
	var refusal *RefusalError
	if !errors.As(err, &refusal) {
		t.Fatalf("expected RefusalError, got %v", err)
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("refusals must not be retried, got %d calls", got)
	}
}

func TestInvokeSentinelRefusal(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return chatResponse("I cannot analyze this content."), nil
	}}
	opts := testOptions()
	opts.RefusalSentinels = []string{"i cannot"}
	iv := NewInvoker(client, newTestCache(t), nil, nil, opts, nil)

	var feats models.ResponseFeatures
	_, err := iv.Invoke(context.Background(), testSpec(), &feats)
	var refusal *RefusalError
	if !errors.As(err, &refusal) {
		t.Fatalf("expected RefusalError, got %v", err)
	}
}

func TestInvokeConcurrentSingleCall(t *testing.T) {
	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return chatResponse(validFeatures), nil
	}}
	iv := NewInvoker(client, newTestCache(t), nil, nil, testOptions(), nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var feats models.ResponseFeatures
			_, errs[i] = iv.Invoke(context.Background(), testSpec(), &feats)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("concurrent identical requests must collapse to 1 call, got %d", got)
	}
}

func TestInvokeBudgetExceeded(t *testing.T) {
	tr, err := usage.New(filepath.Join(t.TempDir(), "usage_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	err = tr.Record(context.Background(), models.UsageRecord{
		CacheKey: "k", RunID: "run-test", Model: "gpt-4.1", TotalTokens: 9999,
	})
	if err != nil {
		t.Fatal(err)
	}
	enforcer := budget.New(models.RunBudget{Enabled: true, MaxTotalTokens: 100}, tr)

	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return chatResponse(validFeatures), nil
	}}
	iv := NewInvoker(client, newTestCache(t), tr, enforcer, testOptions(), nil)

	var feats models.ResponseFeatures
	_, err = iv.Invoke(context.Background(), testSpec(), &feats)
	if !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if got := client.callCount(); got != 0 {
		t.Errorf("exhausted budget must block before the call, got %d calls", got)
	}
}

func TestInvokeRecordsUsage(t *testing.T) {
	tr, err := usage.New(filepath.Join(t.TempDir(), "usage_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	client := &fakeClient{fn: func(int, models.ChatRequest) (*models.ChatResponse, error) {
		return chatResponse(validFeatures), nil
	}}
	iv := NewInvoker(client, newTestCache(t), tr, nil, testOptions(), nil)

	var feats models.ResponseFeatures
	if _, err := iv.Invoke(context.Background(), testSpec(), &feats); err != nil {
		t.Fatal(err)
	}

	total, err := tr.TotalByRun(context.Background(), "run-test")
	if err != nil {
		t.Fatal(err)
	}
	if total != 30 {
		t.Errorf("expected 30 tokens recorded, got %d", total)
	}
}

func TestCleanJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, c := range cases {
		if got := cleanJSON(c.in); got != c.want {
			t.Errorf("cleanJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
