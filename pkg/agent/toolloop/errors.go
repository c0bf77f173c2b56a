package toolloop

import "errors"

var (
	// ErrMaxIterations indicates the model kept calling tools until the iteration cap.
	ErrMaxIterations = errors.New("maximum tool iterations exceeded")

	// ErrNoActivity indicates the model finished without tool calls and without text.
	ErrNoActivity = errors.New("model returned neither tool calls nor content")

	// ErrGracefulShutdown indicates the loop was interrupted by context cancellation.
	ErrGracefulShutdown = errors.New("graceful shutdown requested")
)

// FatalError marks a tool failure that must abort the loop instead of being
// reported back to the model as an error result.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the loop stops and surfaces it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
