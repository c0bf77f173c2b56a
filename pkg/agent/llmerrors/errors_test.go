package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "rate_limit", ErrorTypeRateLimit.String())
	assert.Equal(t, "service_unavailable", ErrorTypeServiceUnavailable.String())
	assert.Equal(t, "invalid", ErrorType(99).String())
}

func TestIsAndTypeOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("agent step: %w", NewErrorWithStatus(ErrorTypeAuth, 401, "bad key"))

	assert.True(t, Is(err, ErrorTypeAuth))
	assert.False(t, Is(err, ErrorTypeTransient))
	assert.Equal(t, ErrorTypeAuth, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "").IsRetryable())
	assert.True(t, NewError(ErrorTypeEmptyResponse, "").IsRetryable())
	assert.False(t, NewError(ErrorTypeAuth, "").IsRetryable())
	assert.False(t, NewServiceUnavailableError(errors.New("x"), 3).IsRetryable())
}

func TestClassifyStatus(t *testing.T) {
	tests := map[int]ErrorType{
		429: ErrorTypeRateLimit,
		401: ErrorTypeAuth,
		403: ErrorTypeAuth,
		400: ErrorTypeBadPrompt,
		500: ErrorTypeTransient,
		503: ErrorTypeTransient,
		302: ErrorTypeUnknown,
	}
	for status, want := range tests {
		assert.Equal(t, want, ClassifyStatus(status), "status %d", status)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil, 0))

	already := NewError(ErrorTypeBadPrompt, "x")
	assert.Same(t, already, Classify(already, 500))

	assert.True(t, Is(Classify(errors.New("boom"), 503), ErrorTypeTransient))
	assert.True(t, errors.Is(Classify(context.Canceled, 0), context.Canceled))
	assert.False(t, Is(Classify(context.Canceled, 0), ErrorTypeTransient))

	deadline := Classify(context.DeadlineExceeded, 0)
	assert.True(t, Is(deadline, ErrorTypeTransient))
	assert.True(t, errors.Is(deadline, context.DeadlineExceeded))

	assert.True(t, Is(Classify(errors.New("Error 429: RESOURCE_EXHAUSTED"), 0), ErrorTypeRateLimit))
	assert.True(t, Is(Classify(errors.New("PERMISSION_DENIED on project"), 0), ErrorTypeAuth))
	assert.True(t, Is(Classify(errors.New("read: connection reset by peer"), 0), ErrorTypeTransient))
	assert.True(t, Is(Classify(errors.New("something odd"), 0), ErrorTypeUnknown))
}
