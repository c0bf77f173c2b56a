// Package chat provides the terminal chat front-end and the secret scanner
// applied to user messages before they reach a model provider.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// SecretScanner interface defines the contract for secret detection.
type SecretScanner interface {
	// Scan checks text for secrets and returns redacted text with a boolean indicating if redactions occurred.
	Scan(ctx context.Context, text string) (redactedText string, hadRedactions bool, err error)
}

type secretPattern struct {
	re   *regexp.Regexp
	kind string
}

// PatternScanner is a simple pattern-based secret scanner.
type PatternScanner struct {
	patterns []secretPattern
	timeout  time.Duration
}

// NewPatternScanner creates a new pattern-based scanner with default patterns.
// A zero timeout disables the scan deadline.
func NewPatternScanner(timeout time.Duration) *PatternScanner {
	return &PatternScanner{
		patterns: defaultPatterns(),
		timeout:  timeout,
	}
}

func defaultPatterns() []secretPattern {
	raw := []struct{ kind, expr string }{
		{"openai-key", `sk-proj-[A-Za-z0-9_-]{48,}`},
		{"anthropic-key", `sk-ant-[A-Za-z0-9_-]{95,}`},
		{"openai-key", `sk-[A-Za-z0-9]{48}`},
		{"google-api-key", `AIza[0-9A-Za-z_-]{35}`},
		{"aws-access-key", `AKIA[0-9A-Z]{16}`},
		{"github-token", `gh[pousr]_[A-Za-z0-9]{36}`},
		{"bearer-token", `Bearer\s+[A-Za-z0-9._-]{20,}`},
		{"api-key", `(?i)api[_-]?key[_-]?\s*[:=]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`},
		{"secret", `(?i)secret[_-]?\s*[:=]\s*['"]?[A-Za-z0-9_-]{20,}['"]?`},
		{"private-key", `-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`},
	}

	compiled := make([]secretPattern, 0, len(raw))
	for _, p := range raw {
		compiled = append(compiled, secretPattern{re: regexp.MustCompile(p.expr), kind: p.kind})
	}
	return compiled
}

// Scan replaces every match with a [redacted:<kind>] marker.
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	hadRedactions := false
	redacted := text
	for _, p := range s.patterns {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("secret scan interrupted: %w", err)
		}
		if !p.re.MatchString(redacted) {
			continue
		}
		hadRedactions = true
		redacted = p.re.ReplaceAllLiteralString(redacted, "[redacted:"+p.kind+"]")
	}
	return redacted, hadRedactions, nil
}
