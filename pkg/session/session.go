// Package session keeps per-session conversation state for the front-end
// adapters and serializes turns: a session accepts one message at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/orchestrator"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnInFlight is returned when a message arrives while the session is still answering.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")

	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// Invoker runs one conversation turn.
type Invoker interface {
	Invoke(ctx context.Context, state orchestrator.State) (orchestrator.State, error)
}

// Redactor scrubs user text before it reaches the model. The bool reports
// whether anything was replaced.
type Redactor interface {
	Scan(ctx context.Context, text string) (string, bool, error)
}

// Interaction is one answered turn, kept for debugging.
type Interaction struct {
	Timestamp        time.Time              `json:"timestamp"`
	UserMessage      string                 `json:"user_message"`
	AssistantMessage string                 `json:"assistant_message"`
	AgentInput       []orchestrator.Message `json:"agent_input"`
	Duration         time.Duration          `json:"duration_ns"`
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"created_at"`
	Messages     []orchestrator.Message `json:"messages"`
	Interactions int                    `json:"interactions"`
	Busy         bool                   `json:"busy"`
}

// Reply is the result of a turn.
type Reply struct {
	Answer string `json:"answer"`
	// Messages are the messages the turn appended, including the user's.
	Messages []orchestrator.Message `json:"messages"`
}

type session struct {
	createdAt    time.Time
	id           string
	state        orchestrator.State
	interactions []Interaction
	// turn is held for the whole duration of a turn.
	turn sync.Mutex
	// mu guards state and interactions.
	mu   sync.RWMutex
	busy bool
}

// Manager owns every live session. Sessions are independent of each other.
type Manager struct {
	invoker  Invoker
	redactor Redactor
	logger   *logx.Logger
	sessions map[string]*session
	mu       sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithRedactor scrubs every user message with r before the turn runs.
func WithRedactor(r Redactor) Option {
	return func(m *Manager) { m.redactor = r }
}

// NewManager creates an empty manager running turns with inv.
func NewManager(inv Invoker, opts ...Option) *Manager {
	m := &Manager{
		invoker:  inv,
		logger:   logx.NewLogger("session"),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new empty session.
func (m *Manager) Create() Snapshot {
	s := &session{id: uuid.New().String(), createdAt: time.Now().UTC()}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("🆕 Session %s created", s.id)
	return s.snapshot()
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// List returns every session, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete forgets the session. A turn still running finishes but its result is dropped.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	m.logger.Info("🗑️  Session %s deleted", id)
	return nil
}

// Interactions returns the answered turns of the session, oldest first.
func (m *Manager) Interactions(id string) ([]Interaction, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Interaction(nil), s.interactions...), nil
}

// Send appends a user message and runs a turn. A second Send while the first is
// running fails with ErrTurnInFlight. On failure the session is left unchanged.
func (m *Manager) Send(ctx context.Context, id, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	s, err := m.lookup(id)
	if err != nil {
		return Reply{}, err
	}

	if !s.turn.TryLock() {
		return Reply{}, fmt.Errorf("%w: %s", ErrTurnInFlight, id)
	}
	defer s.turn.Unlock()
	s.setBusy(true)
	defer s.setBusy(false)

	text = m.redact(ctx, id, text)

	s.mu.RLock()
	input := s.state.Clone().Append(orchestrator.UserMessage(text))
	s.mu.RUnlock()

	start := time.Now()
	out, err := m.invoker.Invoke(ctx, input)
	if err != nil {
		m.logger.Warn("Turn for session %s failed: %v", id, err)
		return Reply{}, err
	}

	added := append([]orchestrator.Message(nil), out.Messages[len(input.Messages)-1:]...)
	answer := ""
	if last, ok := out.LastAssistant(); ok {
		answer = last.Content
	}

	s.mu.Lock()
	s.state = out
	s.interactions = append(s.interactions, Interaction{
		Timestamp:        start.UTC(),
		UserMessage:      text,
		AssistantMessage: answer,
		AgentInput:       append([]orchestrator.Message(nil), input.Messages...),
		Duration:         time.Since(start),
	})
	s.mu.Unlock()

	return Reply{Answer: answer, Messages: added}, nil
}

// redact fails open: a scanner error keeps the original text.
func (m *Manager) redact(ctx context.Context, id, text string) string {
	if m.redactor == nil {
		return text
	}
	redacted, changed, err := m.redactor.Scan(ctx, text)
	if err != nil {
		m.logger.Warn("Secret scan for session %s failed, sending message unredacted: %v", id, err)
		return text
	}
	if changed {
		m.logger.Warn("🔒 Redacted secrets from a message in session %s", id)
	}
	return redacted
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (s *session) setBusy(b bool) {
	s.mu.Lock()
	s.busy = b
	s.mu.Unlock()
}

func (s *session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		Messages:     append([]orchestrator.Message{}, s.state.Messages...),
		Interactions: len(s.interactions),
		Busy:         s.busy,
	}
}
