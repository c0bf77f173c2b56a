package llm

import (
	"context"
	"testing"
)

func TestWrapClient(t *testing.T) {
	completeCalled := false
	streamCalled := false

	client := WrapClient(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			completeCalled = true
			return CompletionResponse{Content: "wrapped"}, nil
		},
		func(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
			streamCalled = true
			ch := make(chan StreamChunk)
			close(ch)
			return ch, nil
		},
		func() string { return "wrapped-model" },
	)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})

	resp, err := client.Complete(ctx, req)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !completeCalled || resp.Content != "wrapped" {
		t.Errorf("Complete not delegated: called=%v content=%q", completeCalled, resp.Content)
	}

	if _, err := client.Stream(ctx, req); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !streamCalled {
		t.Error("Stream function was not called")
	}
	if client.GetModelName() != "wrapped-model" {
		t.Errorf("expected 'wrapped-model', got %q", client.GetModelName())
	}
}

func decorate(prefix, suffix string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err
				}
				resp.Content = prefix + resp.Content + suffix
				return resp, nil
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

// TestChainOrder checks that earlier middlewares are outermost.
func TestChainOrder(t *testing.T) {
	base := &mockLLMClient{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Content: "base"}, nil
		},
	}

	client := Chain(base, decorate("mw1:", ""), decorate("", ":mw2"), decorate("[", "]"))

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// base -> mw3 "[base]" -> mw2 "[base]:mw2" -> mw1 "mw1:[base]:mw2"
	if resp.Content != "mw1:[base]:mw2" {
		t.Errorf("expected %q, got %q", "mw1:[base]:mw2", resp.Content)
	}
	if client.GetModelName() != "mock-model" {
		t.Errorf("expected model name to pass through, got %q", client.GetModelName())
	}
}

func TestChainSkipsNilMiddleware(t *testing.T) {
	base := &mockLLMClient{}
	client := Chain(base, nil, decorate("ok:", ""), nil)

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("x")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok:mock response" {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestChainRequestModification(t *testing.T) {
	var seen float32
	base := &mockLLMClient{
		completeFunc: func(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
			seen = req.Temperature
			return CompletionResponse{Content: "ok"}, nil
		},
	}

	clamp := func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				req.Temperature = 0
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.GetModelName,
		)
	}

	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("x")})
	req.Temperature = 1.5
	if _, err := Chain(base, clamp).Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 0 {
		t.Errorf("expected middleware to rewrite temperature, got %f", seen)
	}
}
