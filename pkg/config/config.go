// Package config provides configuration loading, validation, and management
// for the generation pipeline. It handles the YAML config file, the encrypted
// secrets file, and environment variable fallbacks for provider API keys.
package config

import (
	"fmt"
	"os"
	"time"
)

// Provider identifiers. These are the only values OperationConfig.Provider and
// the fallback order may use.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Default models per provider.
const (
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelGPT5         = "gpt-5"
	ModelGemini3Pro   = "gemini-3-pro-preview"
	ModelOllamaLocal  = "mistral-nemo:latest"
)

// Config filename and directory conventions.
const (
	ConfigFilename = "conductor.yaml"
	ProjectDir     = ".conductor"
)

// DefaultFallbackOrder is the fixed preference list consulted when a requested
// provider is not registered. Ollama last: a local runtime is the only backend
// that needs no API key.
//
//nolint:gochecknoglobals // fixed policy list
var DefaultFallbackOrder = []string{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderGoogle,
	ProviderOllama,
}

// OperationConfig maps one business operation (e.g. "StoryGeneration") to the
// provider, model, and budgets used for its generation calls. Operations are
// distinct from stages: a stage may run several operations over time.
type OperationConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the operation timeout as a duration.
func (o *OperationConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// ReviewConfig configures the review gate.
type ReviewConfig struct {
	MaxContentLength       int      `yaml:"max_content_length"`
	MaxConcurrentReviews   int      `yaml:"max_concurrent_reviews"` // 0 = unlimited
	ReviewTimeoutHours     int      `yaml:"review_timeout_hours"`
	ValidPipelineStages    []string `yaml:"valid_pipeline_stages"`
	CleanupIntervalMinutes int      `yaml:"cleanup_interval_minutes"`
}

// ReviewTimeout returns the configured review expiry window.
func (r *ReviewConfig) ReviewTimeout() time.Duration {
	return time.Duration(r.ReviewTimeoutHours) * time.Hour
}

// CleanupInterval returns the sweeper interval.
func (r *ReviewConfig) CleanupInterval() time.Duration {
	return time.Duration(r.CleanupIntervalMinutes) * time.Minute
}

// AssemblerConfig bounds prompt assembly.
type AssemblerConfig struct {
	MaxPromptTokens    int `yaml:"max_prompt_tokens"`
	WarnPromptBytes    int `yaml:"warn_prompt_bytes"`    // log a warning above this size
	SectionHeaderLimit int `yaml:"section_header_limit"` // max chars for a section title
}

// RetryConfig overrides the per-error-type retry defaults.
type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	InitialDelay  string  `yaml:"initial_delay"` // duration string, e.g. "1s"
	MaxDelay      string  `yaml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	Jitter        bool    `yaml:"jitter"`
}

// MetricsConfig configures the metrics endpoint and optional Prometheus queries.
type MetricsConfig struct {
	ListenAddr    string `yaml:"listen_addr"`    // "" disables the /metrics listener
	PrometheusURL string `yaml:"prometheus_url"` // "" disables dashboard aggregates
}

// Config is the root configuration document.
type Config struct {
	DatabasePath  string                     `yaml:"database_path"`
	FallbackOrder []string                   `yaml:"fallback_order"` // empty = DefaultFallbackOrder
	Operations    map[string]OperationConfig `yaml:"operations"`
	Review        ReviewConfig               `yaml:"review"`
	Assembler     AssemblerConfig            `yaml:"assembler"`
	Retry         RetryConfig                `yaml:"retry"`
	Metrics       MetricsConfig              `yaml:"metrics"`
}

// Operation names the pipeline depends on. Every config file must bind them all;
// a missing entry is a fatal configuration error, found at load time rather than
// mid-pipeline.
//
//nolint:gochecknoglobals // fixed operation set
var RequiredOperations = []string{
	"RequirementsAnalysis",
	"ProjectPlanning",
	"StoryGeneration",
	"CodeGeneration",
}

// GetOperation looks up an operation config. Missing entries are a fatal
// configuration error per the load-time contract, so this only fails if a
// caller asks for an operation outside RequiredOperations.
func (c *Config) GetOperation(name string) (OperationConfig, error) {
	op, ok := c.Operations[name]
	if !ok {
		return OperationConfig{}, fmt.Errorf("no operation config for %q", name)
	}
	return op, nil
}

// Validate checks the configuration for fatal errors.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}

	for _, name := range RequiredOperations {
		op, ok := c.Operations[name]
		if !ok {
			return fmt.Errorf("missing operation config for %q", name)
		}
		if err := validateOperation(name, &op); err != nil {
			return err
		}
	}

	for _, p := range c.FallbackOrder {
		if !isKnownProvider(p) {
			return fmt.Errorf("unknown provider %q in fallback_order", p)
		}
	}

	if c.Review.MaxContentLength <= 0 {
		return fmt.Errorf("review.max_content_length must be positive")
	}
	if c.Review.MaxConcurrentReviews < 0 {
		return fmt.Errorf("review.max_concurrent_reviews cannot be negative")
	}
	if c.Review.ReviewTimeoutHours <= 0 {
		return fmt.Errorf("review.review_timeout_hours must be positive")
	}
	if len(c.Review.ValidPipelineStages) == 0 {
		return fmt.Errorf("review.valid_pipeline_stages cannot be empty")
	}

	if c.Assembler.MaxPromptTokens <= 0 {
		return fmt.Errorf("assembler.max_prompt_tokens must be positive")
	}

	return nil
}

func validateOperation(name string, op *OperationConfig) error {
	if !isKnownProvider(op.Provider) {
		return fmt.Errorf("operation %q: unknown provider %q", name, op.Provider)
	}
	if op.Model == "" {
		return fmt.Errorf("operation %q: model is required", name)
	}
	if op.MaxTokens <= 0 {
		return fmt.Errorf("operation %q: max_tokens must be positive", name)
	}
	if op.Temperature < 0.0 || op.Temperature > 2.0 {
		return fmt.Errorf("operation %q: temperature must be between 0.0 and 2.0", name)
	}
	if op.TimeoutSeconds <= 0 {
		return fmt.Errorf("operation %q: timeout_seconds must be positive", name)
	}
	return nil
}

func isKnownProvider(name string) bool {
	switch name {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		return true
	default:
		return false
	}
}

// GetAPIKey returns the API key for a given provider.
// Checks the decrypted secrets file first, then environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		// Ollama doesn't use API keys - return host URL instead.
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}

// DefaultConfig returns a complete working configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:  "conductor.db",
		FallbackOrder: append([]string{}, DefaultFallbackOrder...),
		Operations: map[string]OperationConfig{
			"RequirementsAnalysis": {
				Provider:       ProviderAnthropic,
				Model:          ModelClaudeSonnet,
				MaxTokens:      4096,
				Temperature:    0.7,
				TimeoutSeconds: 120,
			},
			"ProjectPlanning": {
				Provider:       ProviderAnthropic,
				Model:          ModelClaudeSonnet,
				MaxTokens:      8192,
				Temperature:    0.5,
				TimeoutSeconds: 180,
			},
			"StoryGeneration": {
				Provider:       ProviderOpenAI,
				Model:          ModelGPT5,
				MaxTokens:      8192,
				Temperature:    0.7,
				TimeoutSeconds: 180,
			},
			"CodeGeneration": {
				Provider:       ProviderAnthropic,
				Model:          ModelClaudeSonnet,
				MaxTokens:      16384,
				Temperature:    0.2,
				TimeoutSeconds: 300,
			},
		},
		Review: ReviewConfig{
			MaxContentLength:       100000,
			MaxConcurrentReviews:   0,
			ReviewTimeoutHours:     72,
			ValidPipelineStages:    []string{"Requirements", "Planning", "Stories", "Code"},
			CleanupIntervalMinutes: 15,
		},
		Assembler: AssemblerConfig{
			MaxPromptTokens:    24000,
			WarnPromptBytes:    200000,
			SectionHeaderLimit: 120,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  "1s",
			MaxDelay:      "60s",
			BackoffFactor: 2.0,
			Jitter:        false,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}
