// Package provider builds resilient generation clients: raw SDK clients
// wrapped in middleware, a registry with fallback substitution, and the
// content generator the pipeline stages call.
package provider

import (
	"fmt"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/provider/internal/llmimpl/anthropic"
	"conductor/pkg/provider/internal/llmimpl/google"
	"conductor/pkg/provider/internal/llmimpl/ollama"
	"conductor/pkg/provider/internal/llmimpl/openai"
	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/middleware/metrics"
	"conductor/pkg/provider/middleware/retry"
	"conductor/pkg/provider/middleware/timeout"
)

// Factory creates provider clients with configured middleware chains.
type Factory struct {
	cfg      *config.Config
	recorder *metrics.PrometheusRecorder
	logger   *logx.Logger
}

// NewFactory creates a client factory. The recorder is shared across all
// clients so metrics aggregate per provider and operation.
func NewFactory(cfg *config.Config, recorder *metrics.PrometheusRecorder) *Factory {
	return &Factory{
		cfg:      cfg,
		recorder: recorder,
		logger:   logx.NewLogger("provider-factory"),
	}
}

// defaultModels maps each provider to its default model when no operation
// pins one explicitly.
//
//nolint:gochecknoglobals // fixed lookup table
var defaultModels = map[string]string{
	config.ProviderAnthropic: config.ModelClaudeSonnet,
	config.ProviderOpenAI:    config.ModelGPT5,
	config.ProviderGoogle:    config.ModelGemini3Pro,
	config.ProviderOllama:    config.ModelOllamaLocal,
}

// DefaultModel returns the default model for a provider.
func DefaultModel(provider string) (string, error) {
	model, ok := defaultModels[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	return model, nil
}

// NewRawClient creates an unwrapped client for the given provider and model.
// The API key (or host URL for ollama) comes from the secrets store or the
// provider's environment variable.
func (f *Factory) NewRawClient(provider, model string) (llm.Client, error) {
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(apiKey, model), nil
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewClient(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewClient(apiKey, model), nil // apiKey carries the host URL
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// NewClient creates a client for one provider wrapped in the middleware
// chain for one operation: Metrics -> Retry -> Timeout -> RawClient.
func (f *Factory) NewClient(provider, model, operation string, opTimeout time.Duration) (llm.Client, error) {
	rawClient, err := f.NewRawClient(provider, model)
	if err != nil {
		return nil, err
	}

	retryPolicy := retry.NewPolicy(f.retryConfig(), nil) // default classifier

	return llm.Chain(rawClient,
		metrics.Middleware(f.recorder, operation),
		retry.Middleware(retryPolicy),
		timeout.Middleware(opTimeout),
	), nil
}

// retryConfig converts the YAML retry section into a retry.Config, falling
// back to defaults for unset or unparseable fields.
func (f *Factory) retryConfig() retry.Config {
	cfg := retry.DefaultConfig

	if f.cfg.Retry.MaxRetries > 0 {
		// max_retries counts retries beyond the initial attempt.
		cfg.MaxAttempts = f.cfg.Retry.MaxRetries + 1
	}
	if f.cfg.Retry.BackoffFactor > 0 {
		cfg.BackoffFactor = f.cfg.Retry.BackoffFactor
	}
	cfg.Jitter = f.cfg.Retry.Jitter

	if f.cfg.Retry.InitialDelay != "" {
		if d, err := time.ParseDuration(f.cfg.Retry.InitialDelay); err == nil {
			cfg.InitialDelay = d
		} else {
			f.logger.Warn("invalid retry initial_delay %q, using default", f.cfg.Retry.InitialDelay)
		}
	}
	if f.cfg.Retry.MaxDelay != "" {
		if d, err := time.ParseDuration(f.cfg.Retry.MaxDelay); err == nil {
			cfg.MaxDelay = d
		} else {
			f.logger.Warn("invalid retry max_delay %q, using default", f.cfg.Retry.MaxDelay)
		}
	}

	return cfg
}
