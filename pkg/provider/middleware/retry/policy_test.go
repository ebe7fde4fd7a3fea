package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/llmerrors"
)

// =============================================================================
// ShouldRetry classifier tests
// =============================================================================

func TestShouldRetry_NilError(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("Expected false for nil error")
	}
}

func TestShouldRetry_ContextCanceled(t *testing.T) {
	if ShouldRetry(context.Canceled) {
		t.Error("Expected false for context.Canceled")
	}
}

func TestShouldRetry_WrappedContextCanceled(t *testing.T) {
	err := fmt.Errorf("operation failed: %w", context.Canceled)
	if ShouldRetry(err) {
		t.Error("Expected false for wrapped context.Canceled")
	}
}

func TestShouldRetry_ContextDeadlineExceeded(t *testing.T) {
	// DeadlineExceeded SHOULD be retryable — per-request HTTP timeouts wrap
	// DeadlineExceeded but the parent context is still valid.
	if !ShouldRetry(context.DeadlineExceeded) {
		t.Error("Expected true for context.DeadlineExceeded (per-request timeouts should retry)")
	}
}

func TestShouldRetry_AuthError(t *testing.T) {
	err := &llmerrors.Error{Type: llmerrors.ErrorTypeAuth, Message: "invalid api key"}
	if ShouldRetry(err) {
		t.Error("Expected false for auth error")
	}
}

func TestShouldRetry_BadPromptError(t *testing.T) {
	err := &llmerrors.Error{Type: llmerrors.ErrorTypeBadPrompt, Message: "prompt too long"}
	if ShouldRetry(err) {
		t.Error("Expected false for bad prompt error")
	}
}

func TestShouldRetry_UnavailableError(t *testing.T) {
	err := &llmerrors.Error{Type: llmerrors.ErrorTypeUnavailable, Message: "all retries exhausted"}
	if ShouldRetry(err) {
		t.Error("Expected false for unavailable (already exhausted retries)")
	}
}

func TestShouldRetry_RateLimitError(t *testing.T) {
	err := &llmerrors.Error{Type: llmerrors.ErrorTypeRateLimit, Message: "rate limited"}
	if !ShouldRetry(err) {
		t.Error("Expected true for rate limit error")
	}
}

func TestShouldRetry_TransientError(t *testing.T) {
	err := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 503, "service overloaded")
	if !ShouldRetry(err) {
		t.Error("Expected true for transient error")
	}
}

func TestShouldRetry_WrappedAuthError(t *testing.T) {
	inner := &llmerrors.Error{Type: llmerrors.ErrorTypeAuth, Message: "invalid key"}
	err := fmt.Errorf("provider call failed: %w", inner)
	if ShouldRetry(err) {
		t.Error("Expected false for wrapped auth error")
	}
}

func TestShouldRetry_UnclassifiedError(t *testing.T) {
	if ShouldRetry(errors.New("something went wrong")) {
		t.Error("Expected false for unclassified error")
	}
}

// =============================================================================
// CalculateDelay tests
// =============================================================================

func TestCalculateDelay_FirstAttempt(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}, nil)

	if delay := policy.CalculateDelay(1); delay != 0 {
		t.Errorf("Expected no delay before first attempt, got %v", delay)
	}
}

func TestCalculateDelay_ExponentialGrowth(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	expected := map[int]time.Duration{
		2: time.Second,
		3: 2 * time.Second,
		4: 4 * time.Second,
		5: 8 * time.Second,
	}
	for attempt, want := range expected {
		if got := policy.CalculateDelay(attempt); got != want {
			t.Errorf("Attempt %d: expected delay %v, got %v", attempt, want, got)
		}
	}
}

func TestCalculateDelay_CappedAtMax(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:   10,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	if got := policy.CalculateDelay(8); got != 5*time.Second {
		t.Errorf("Expected delay capped at 5s, got %v", got)
	}
}

func TestCalculateDelay_JitterStaysPositive(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil)

	for attempt := 2; attempt <= 5; attempt++ {
		if got := policy.CalculateDelay(attempt); got <= 0 {
			t.Errorf("Attempt %d: expected positive delay with jitter, got %v", attempt, got)
		}
	}
}

// =============================================================================
// Middleware tests
// =============================================================================

// fakeClient scripts a sequence of responses so tests can assert how many
// attempts the middleware makes.
type fakeClient struct {
	errs  []error
	calls int
}

func (f *fakeClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return llm.CompletionResponse{}, f.errs[idx]
	}
	return llm.CompletionResponse{Content: "ok", Provider: "fake", Model: "fake-model"}, nil
}

func (f *fakeClient) ProviderName() string { return "fake" }
func (f *fakeClient) ModelName() string    { return "fake-model" }

func fastPolicy(maxAttempts int) *Policy {
	return NewPolicy(Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)
}

func TestMiddleware_SucceedsAfterTransientFailures(t *testing.T) {
	// Two 500s followed by success: the caller sees the success and no error.
	client := &fakeClient{errs: []error{
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 500, "server error"),
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 500, "server error"),
		nil,
	}}
	wrapped := Middleware(fastPolicy(3))(client)

	resp, err := wrapped.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Expected response content, got %q", resp.Content)
	}
	if client.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", client.calls)
	}
}

func TestMiddleware_ExhaustionReturnsUnavailable(t *testing.T) {
	client := &fakeClient{errs: []error{
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 503, "overloaded"),
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 503, "overloaded"),
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 503, "overloaded"),
	}}
	wrapped := Middleware(fastPolicy(3))(client)

	_, err := wrapped.Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.IsUnavailable(err) {
		t.Errorf("Expected unavailable error after exhaustion, got %v", err)
	}
	if client.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", client.calls)
	}
}

func TestMiddleware_NonRetryableFailsFast(t *testing.T) {
	client := &fakeClient{errs: []error{
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 401, "bad key"),
	}}
	wrapped := Middleware(fastPolicy(3))(client)

	_, err := wrapped.Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Errorf("Expected auth error passed through, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", client.calls)
	}
}

func TestMiddleware_ContextCancellationStopsRetries(t *testing.T) {
	client := &fakeClient{errs: []error{
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 500, "server error"),
		llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 500, "server error"),
	}}
	policy := NewPolicy(Config{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}, nil)
	wrapped := Middleware(policy)(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.Complete(ctx, llm.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled during backoff wait, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", client.calls)
	}
}
