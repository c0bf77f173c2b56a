// Package logx provides structured logging functionality with context-aware debug logging.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// timestampFormat is shared by console lines and buffered entries.
const timestampFormat = "2006-01-02T15:04:05.000Z"

// Logger writes leveled log lines tagged with a component name
// (e.g. "orchestrator", "crew", "session-<id>").
type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// contextKey is the type for values this package reads from a context.
type contextKey string

// ComponentKey carries the component name used by the package-level Debug helpers.
const ComponentKey contextKey = "component"

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

// LogEntry represents a structured log entry served to front-ends.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// InMemoryLogBuffer stores recent log entries.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

// Global debug configuration, output writer and log buffer.
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	logWriter     io.Writer
	logWriterLock sync.Mutex

	logBuffer = &InMemoryLogBuffer{
		entries: make([]LogEntry, 0),
		maxSize: 1000,
	}
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv initializes debug configuration from environment variables.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=orchestrator,crew
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger returns a logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput redirects all log lines to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

// SetDebugConfig toggles debug logging.
func SetDebugConfig(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains configures which domains should have debug logging enabled.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// AddLogEntry adds a log entry to the in-memory buffer.
func (b *InMemoryLogBuffer) AddLogEntry(entry *LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// GetLogEntries returns a copy of current log entries, optionally filtered
// by component and by time.
func (b *InMemoryLogBuffer) GetLogEntries(component string, since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if component != "" && !strings.EqualFold(entry.Component, component) {
			continue
		}
		if !since.IsZero() {
			entryTime, err := time.Parse(timestampFormat, entry.Timestamp)
			if err != nil || entryTime.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// GetRecentLogEntries returns recent log entries from the global buffer.
func GetRecentLogEntries(component string, since time.Time) []LogEntry {
	return logBuffer.GetLogEntries(component, since)
}

func writeLine(line string) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()

	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintln(w, line)
}

func (l *Logger) log(level Level, domain, format string, args ...any) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	message := fmt.Sprintf(format, args...)
	writeLine(fmt.Sprintf("[%s] [%s] %s: %s", timestamp, l.component, level, message))

	logBuffer.AddLogEntry(&LogEntry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, "", format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "", format, args...)
}

// Debug logs a debug message with context and domain filtering.
//
//	logx.Debug(ctx, "orchestrator", "transition %s -> %s", from, to)
//
// Environment variable control:
//
//	DEBUG=1                                 # Enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=crew              # Enable debug only for crew
//	DEBUG=1 DEBUG_DOMAINS=crew,orchestrator # Enable debug for multiple domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	NewLogger(componentFrom(ctx)).log(LevelDebug, domain, "[%s] %s", domain, fmt.Sprintf(format, args...))
}

// DebugState logs state transition information with context and domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

// WithComponent returns a context whose package-level debug lines are tagged with component.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ComponentKey, component)
}

func componentFrom(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ComponentKey).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}
