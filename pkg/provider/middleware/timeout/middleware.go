// Package timeout provides per-request timeout middleware for provider clients.
package timeout

import (
	"context"
	"time"

	"conductor/pkg/provider/llm"
)

// Middleware returns a middleware function that wraps a provider client with
// per-request timeout logic. Each request gets its own timeout context to
// prevent hanging requests.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				return next.Complete(timeoutCtx, req)
			},
			func() string {
				return next.ProviderName()
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
