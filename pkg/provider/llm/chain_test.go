package llm

import (
	"context"
	"testing"
)

func namedMiddleware(name string, order *[]string) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				*order = append(*order, name)
				return next.Complete(ctx, req)
			},
			next.ProviderName,
			next.ModelName,
		)
	}
}

func TestChainAppliesFirstMiddlewareOutermost(t *testing.T) {
	var order []string
	base := WrapClient(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			order = append(order, "base")
			return CompletionResponse{Content: "ok"}, nil
		},
		func() string { return "test" },
		func() string { return "test-model" },
	)

	chained := Chain(base,
		namedMiddleware("first", &order),
		namedMiddleware("second", &order),
		namedMiddleware("third", &order),
	)

	resp, err := chained.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected content %q", resp.Content)
	}

	want := []string{"first", "second", "third", "base"}
	if len(order) != len(want) {
		t.Fatalf("call order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("call order %v, want %v", order, want)
		}
	}

	if chained.ProviderName() != "test" || chained.ModelName() != "test-model" {
		t.Error("identity methods should pass through the chain")
	}
}

type bareClient struct{}

func (bareClient) Complete(context.Context, CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{}, nil
}
func (bareClient) ProviderName() string { return "bare" }
func (bareClient) ModelName() string    { return "bare-model" }

func TestChainWithNoMiddlewareReturnsBase(t *testing.T) {
	base := bareClient{}
	if Chain(base) != Client(base) {
		t.Error("empty chain should return the base client unchanged")
	}
}

func TestValidate(t *testing.T) {
	valid := NewCompletionRequest([]CompletionMessage{
		NewSystemMessage("you are terse"),
		NewUserMessage("hello"),
	})
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	empty := NewCompletionRequest(nil)
	if err := empty.Validate(); err == nil {
		t.Error("empty message list should be rejected")
	}

	badBudget := valid
	badBudget.MaxTokens = 0
	if err := badBudget.Validate(); err == nil {
		t.Error("zero token budget should be rejected")
	}

	hotTemp := valid
	hotTemp.Temperature = 2.5
	if err := hotTemp.Validate(); err == nil {
		t.Error("out-of-range temperature should be rejected")
	}
}
