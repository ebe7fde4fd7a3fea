// Package llm provides the uniform client contract implemented by every
// generative-AI provider backend.
package llm

import (
	"context"
	"fmt"
	"time"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureDefault is the default temperature for generation tasks.
	TemperatureDefault = 0.7

	// DefaultMaxTokens is the default reply budget when an operation does not
	// configure its own.
	DefaultMaxTokens = 4096
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
// Each backend encodes this differently on the wire (message arrays vs a
// single flattened prompt); the contract here is uniform.
type CompletionRequest struct {
	Messages    []CompletionMessage
	Model       string
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content      string        // Generated text
	Provider     string        // Provider that served the request
	Model        string        // Model that produced the content
	TokensUsed   int           // Total tokens reported by the provider (0 if unknown)
	ResponseTime time.Duration // Wall time for the provider call
	StopReason   string        // Why generation stopped: "end_turn", "max_tokens", etc.
}

// Client defines the interface for provider interactions.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// ProviderName returns the provider identifier, e.g. "anthropic".
	ProviderName() string

	// ModelName returns the default model for this client.
	ModelName() string
}

// NewCompletionRequest creates a completion request with default budget and
// temperature.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// Validate performs basic shape checks before a request is dispatched.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if r.Temperature < 0.0 || r.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
