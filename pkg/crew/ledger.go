package crew

import (
	"context"
	"time"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
)

// Run statuses stored in the ledger.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunRecord describes one finished crew run. Instructions are handed to the
// recorder for fingerprinting; recorders must not persist the text itself.
//
//nolint:govet // fieldalignment: grouped by concern
type RunRecord struct {
	ID           string
	Model        string
	Instructions string
	Status       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Tasks        []TaskRecord
}

// TaskRecord describes one task inside a run.
//
//nolint:govet // fieldalignment: grouped by concern
type TaskRecord struct {
	Task        string
	Role        string
	Status      string
	Duration    time.Duration
	Usage       llm.Usage
	OutputChars int
}

// RunRecorder persists finished runs. Failures to record never fail the run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *RunRecord) error
}
