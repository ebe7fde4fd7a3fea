package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/config"
	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/llmerrors"
	"conductor/pkg/provider/middleware/retry"
)

// scriptedClient fails with each queued error in turn, then succeeds.
type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return llm.CompletionResponse{}, err
	}
	return llm.CompletionResponse{Content: "recovered"}, nil
}

func (s *scriptedClient) ProviderName() string { return "scripted" }
func (s *scriptedClient) ModelName() string    { return "scripted-model" }

func TestRetryConfigMaxRetriesCountsBeyondInitialAttempt(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.MaxRetries = 2
	cfg.Retry.InitialDelay = "1ms"
	cfg.Retry.MaxDelay = "5ms"
	factory := NewFactory(cfg, nil)

	retryCfg := factory.retryConfig()
	assert.Equal(t, 3, retryCfg.MaxAttempts, "2 retries means 3 total attempts")

	// Two transient failures must be absorbed and the third attempt's
	// success returned to the caller.
	serverErr := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 500, "upstream 500")
	client := &scriptedClient{errs: []error{serverErr, serverErr}}
	wrapped := retry.Middleware(retry.NewPolicy(retryCfg, nil))(client)

	resp, err := wrapped.Complete(context.Background(), llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hi")},
	))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, client.calls)
}

func TestRetryConfigParsesDurationsAndFactor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.MaxRetries = 4
	cfg.Retry.InitialDelay = "250ms"
	cfg.Retry.MaxDelay = "10s"
	cfg.Retry.BackoffFactor = 3.0
	factory := NewFactory(cfg, nil)

	got := factory.retryConfig()
	assert.Equal(t, 5, got.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, got.InitialDelay)
	assert.Equal(t, 10*time.Second, got.MaxDelay)
	assert.InDelta(t, 3.0, got.BackoffFactor, 0.001)
}

func TestRetryConfigKeepsDefaultsOnBadDurations(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.InitialDelay = "soon"
	cfg.Retry.MaxDelay = "eventually"
	factory := NewFactory(cfg, nil)

	got := factory.retryConfig()
	assert.Equal(t, retry.DefaultConfig.InitialDelay, got.InitialDelay)
	assert.Equal(t, retry.DefaultConfig.MaxDelay, got.MaxDelay)
}
