// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// Middleware returns a middleware function that wraps an LLM client with per-request timeout logic.
// For streams the deadline covers the whole stream, not just opening it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)

				in, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer cancel()
					defer close(out)

					fail := func() {
						select {
						case out <- llm.StreamChunk{Error: timeoutCtx.Err(), Done: true}:
						case <-ctx.Done():
						}
					}

					for {
						select {
						case chunk, ok := <-in:
							if !ok {
								if timeoutCtx.Err() != nil {
									fail()
								}
								return
							}
							select {
							case out <- chunk:
							case <-timeoutCtx.Done():
								fail()
								return
							}
							if chunk.Done || chunk.Error != nil {
								return
							}
						case <-timeoutCtx.Done():
							fail()
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
