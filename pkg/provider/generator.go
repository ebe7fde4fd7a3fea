package provider

import (
	"context"
	"fmt"

	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/llmerrors"
)

// Generator is the entry point stages use to produce content. It binds an
// operation name to its configured provider, applies the fallback order
// when that provider's retries exhaust, and returns typed failures.
type Generator struct {
	cfg      *config.Config
	registry *Registry
	logger   *logx.Logger

	// warnPromptBytes logs a warning for prompts above this byte size.
	warnPromptBytes int
}

// NewGenerator creates a generator over the registry.
func NewGenerator(cfg *config.Config, registry *Registry) *Generator {
	return &Generator{
		cfg:             cfg,
		registry:        registry,
		logger:          logx.NewLogger("generator"),
		warnPromptBytes: cfg.Assembler.WarnPromptBytes,
	}
}

// Generate runs one completion for the named operation. The system prompt
// may be empty; the user prompt is the assembled stage context.
func (g *Generator) Generate(ctx context.Context, operation, systemPrompt, userPrompt string) (llm.CompletionResponse, error) {
	opCfg, err := g.cfg.GetOperation(operation)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	if g.warnPromptBytes > 0 && len(systemPrompt)+len(userPrompt) > g.warnPromptBytes {
		g.logger.Warn("oversized prompt for operation %s: %d bytes: %s",
			operation, len(systemPrompt)+len(userPrompt),
			llmerrors.SanitizePrompt(userPrompt, 400))
	}

	var messages []llm.CompletionMessage
	if systemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(systemPrompt))
	}
	messages = append(messages, llm.NewUserMessage(userPrompt))

	req := llm.NewCompletionRequest(messages)
	req.Model = opCfg.Model
	if opCfg.MaxTokens > 0 {
		req.MaxTokens = opCfg.MaxTokens
	}
	if opCfg.Temperature > 0 {
		req.Temperature = opCfg.Temperature
	}
	if err := req.Validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid completion request")
	}

	client, err := g.registry.ClientFor(operation, opCfg.Provider, opCfg.Model, opCfg.Timeout())
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnavailable, err, "no provider available")
	}

	resp, err := client.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	// Only exhausted-retry failures trigger mid-flight fallback; auth and
	// prompt errors would fail identically on the next provider's retries
	// being wasted, so they surface immediately.
	if !llmerrors.IsUnavailable(err) {
		return llm.CompletionResponse{}, err
	}

	lastErr := err
	from := client.ProviderName()
	for _, candidate := range g.registry.NextAfter(from) {
		fallbackModel, modelErr := DefaultModel(candidate)
		if modelErr != nil {
			continue
		}
		fallbackClient, buildErr := g.registry.clientFor(operation, candidate, fallbackModel, opCfg.Timeout())
		if buildErr != nil {
			g.logger.Debug("fallback candidate %s unavailable for %s: %v", candidate, operation, buildErr)
			continue
		}

		g.logger.Warn("provider %s exhausted for operation %s, falling back to %s", from, operation, candidate)
		g.registry.RecordFallback(from, candidate)

		resp, err = fallbackClient.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !llmerrors.IsUnavailable(err) {
			return llm.CompletionResponse{}, err
		}
		from = candidate
	}

	return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(
		llmerrors.ErrorTypeUnavailable, lastErr,
		fmt.Sprintf("all providers exhausted for operation %s", operation),
	)
}
