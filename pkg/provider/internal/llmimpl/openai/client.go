// Package openai provides the OpenAI client implementation using the
// official OpenAI Go package and its Responses API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/provider/internal/llmimpl/anthropic"
	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/llmerrors"
)

// ProviderName identifies this client in responses and fallback logs.
const ProviderName = "openai"

// Client wraps the official OpenAI Go client to implement llm.Client.
type Client struct {
	client openaisdk.Client
	model  string
}

// NewClient creates a raw OpenAI client; middleware is applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: openaisdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements the llm.Client interface using the Responses API.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	// The Responses API takes a single input string; fold the message roles in.
	var inputText string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		default:
			inputText += msg.Content
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openaisdk.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openaisdk.String(inputText)},
	}

	start := time.Now()
	resp, err := o.client.Responses.New(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text output in OpenAI response")
	}

	return llm.CompletionResponse{
		Content:      content,
		Provider:     ProviderName,
		Model:        o.model,
		TokensUsed:   int(resp.Usage.TotalTokens),
		ResponseTime: elapsed,
	}, nil
}

// ProviderName returns the provider identifier for this client.
func (o *Client) ProviderName() string {
	return ProviderName
}

// ModelName returns the model name for this client.
func (o *Client) ModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	// SDK errors carry their status code in the message.
	if statusCode := anthropic.ExtractStatusCode(err.Error()); statusCode != 0 {
		return llmerrors.NewErrorWithStatus(llmerrors.ClassifyStatus(statusCode), statusCode, err.Error())
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}
