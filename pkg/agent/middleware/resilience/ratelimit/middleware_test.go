package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

type countingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (c *countingClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, _ := c.Complete(ctx, req)
	return llm.StreamFromResponse(resp), nil
}

func (c *countingClient) GetModelName() string { return "counting" }

type throttleRecorder struct {
	mu        sync.Mutex
	throttles int
	waits     int
}

func (r *throttleRecorder) ObserveRequest(string, string, int, int, bool, string, time.Duration) {}

func (r *throttleRecorder) IncThrottle(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttles++
}

func (r *throttleRecorder) ObserveQueueWait(string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
}

func req() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	assert.Nil(t, NewLimiter(-5))

	l := NewLimiter(600)
	require.NotNil(t, l)
	assert.Equal(t, 60, l.Burst())
	assert.Equal(t, 1, NewLimiter(3).Burst())
}

func TestNilLimiterIsPassThrough(t *testing.T) {
	base := &countingClient{}
	client := llm.Chain(base, Middleware(nil, nil))
	assert.Same(t, llm.LLMClient(base), client)
}

func TestMiddlewareThrottlesBeyondBurst(t *testing.T) {
	base := &countingClient{}
	rec := &throttleRecorder{}
	client := llm.Chain(base, Middleware(rate.NewLimiter(rate.Every(20*time.Millisecond), 1), rec))

	start := time.Now()
	for range 3 {
		_, err := client.Complete(context.Background(), req())
		require.NoError(t, err)
	}

	assert.Equal(t, 3, base.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 2, rec.throttles)
	assert.Equal(t, 2, rec.waits)
}

func TestMiddlewareRespectsCancellation(t *testing.T) {
	base := &countingClient{}
	client := llm.Chain(base, Middleware(NewLimiter(1), nil))

	_, err := client.Complete(context.Background(), req())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Stream(ctx, req())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, 1, base.calls)
}
