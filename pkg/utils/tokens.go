// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts. None of the supported providers publish a
// local tokenizer, so every model is approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter for the named model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// CountTokensSimple counts tokens with a shared GPT-4 counter.
func CountTokensSimple(text string) int {
	defaultCounterOnce.Do(func() {
		// A nil counter falls back to the character estimate.
		defaultCounter, _ = NewTokenCounter("gpt-4")
	})
	return defaultCounter.CountTokens(text)
}
