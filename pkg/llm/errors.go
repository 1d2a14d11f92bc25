package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// RefusalError reports an explicit model refusal. Refusals are never
// retried; the caller decides whether to skip the response or abort
// the batch.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("model refused: %s", e.Reason)
}

// SchemaValidationError reports output that failed schema validation
// after the corrective retry. RawOutput carries the offending bytes for
// post-mortem; the audit log preserves them.
type SchemaValidationError struct {
	RawOutput []byte
	Err       error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("output failed schema validation: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response from the upstream API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// isTransient reports whether an error warrants a backoff retry:
// timeouts, rate limits and upstream 5xx. Context cancellation is not
// transient; neither are 4xx other than 429.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
