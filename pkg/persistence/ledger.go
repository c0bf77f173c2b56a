package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/crew"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("crew run not found")

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is a stored crew run.
//
//nolint:govet // fieldalignment: mirrors the JSON layout
type Run struct {
	ID                      string    `json:"id"`
	Model                   string    `json:"model"`
	InstructionsFingerprint string    `json:"instructions_fingerprint"`
	InstructionsChars       int       `json:"instructions_chars"`
	Status                  string    `json:"status"`
	Error                   string    `json:"error,omitempty"`
	StartedAt               time.Time `json:"started_at"`
	FinishedAt              time.Time `json:"finished_at"`
	Tasks                   []TaskRun `json:"tasks,omitempty"`
}

// TaskRun is a stored task of a run.
type TaskRun struct {
	Task         string `json:"task"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	DurationMS   int64  `json:"duration_ms"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	OutputChars  int    `json:"output_chars"`
}

// Fingerprint returns the hex BLAKE2b-256 digest of instructions.
func Fingerprint(instructions string) string {
	sum := blake2b.Sum256([]byte(instructions))
	return hex.EncodeToString(sum[:])
}

// RecordRun stores a finished run and its tasks in one transaction. Only the
// fingerprint and length of the instructions are kept.
func (l *Ledger) RecordRun(ctx context.Context, run *crew.RunRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO crew_runs (id, model, instructions_fingerprint, instructions_chars, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, Fingerprint(run.Instructions), len(run.Instructions), run.Status, run.Error,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert crew run %s: %w", run.ID, err)
	}

	for i := range run.Tasks {
		task := &run.Tasks[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crew_task_runs (run_id, seq, task, role, status, duration_ms, input_tokens, output_tokens, output_chars)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, task.Task, task.Role, task.Status, task.Duration.Milliseconds(),
			task.Usage.InputTokens, task.Usage.OutputTokens, task.OutputChars)
		if err != nil {
			return fmt.Errorf("failed to insert task %s of run %s: %w", task.Task, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit crew run %s: %w", run.ID, err)
	}
	l.logger.Debug("Recorded crew run %s (%s, %d tasks)", run.ID, run.Status, len(run.Tasks))
	return nil
}

// ListRuns returns the most recent runs first, without their tasks.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, model, instructions_fingerprint, instructions_chars, status, error, started_at, finished_at
		FROM crew_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crew runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crew runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its tasks in execution order.
func (l *Ledger) GetRun(ctx context.Context, id string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, model, instructions_fingerprint, instructions_chars, status, error, started_at, finished_at
		FROM crew_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT task, role, status, duration_ms, input_tokens, output_tokens, output_chars
		FROM crew_task_runs WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks of run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t TaskRun
		if err := rows.Scan(&t.Task, &t.Role, &t.Status, &t.DurationMS, &t.InputTokens, &t.OutputTokens, &t.OutputChars); err != nil {
			return nil, fmt.Errorf("failed to scan task of run %s: %w", id, err)
		}
		run.Tasks = append(run.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks of run %s: %w", id, err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                Run
		started, finished string
	)
	err := s.Scan(&run.ID, &run.Model, &run.InstructionsFingerprint, &run.InstructionsChars,
		&run.Status, &run.Error, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers test for sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan crew run: %w", err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("invalid started_at for run %s: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("invalid finished_at for run %s: %w", run.ID, err)
	}
	return &run, nil
}
