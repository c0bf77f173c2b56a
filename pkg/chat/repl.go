package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/orchestrator"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/session"
)

const (
	defaultPrompt = "you> "
	continuation  = "... "
)

// REPL is an interactive terminal conversation bound to one session at a time.
type REPL struct {
	in       io.Reader
	out      io.Writer
	usage    *metrics.QueryService
	logger   *logx.Logger
	prompt   string
	streamed atomic.Bool
}

// Option configures a REPL.
type Option func(*REPL)

// WithUsage enables the /usage command.
func WithUsage(q *metrics.QueryService) Option {
	return func(r *REPL) { r.usage = q }
}

// WithPrompt overrides the input prompt.
func WithPrompt(prompt string) Option {
	return func(r *REPL) { r.prompt = prompt }
}

// NewREPL creates a REPL reading from in and writing to out. When in is a
// terminal the REPL switches it to raw mode for line editing.
func NewREPL(in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{
		in:     in,
		out:    out,
		logger: logx.NewLogger("chat"),
		prompt: defaultPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StreamHandler returns the handler to install on the orchestrator so the
// answer is printed as it is generated.
func (r *REPL) StreamHandler() orchestrator.StreamHandler {
	return func(chunk string) {
		r.streamed.Store(true)
		_, _ = io.WriteString(r.out, chunk)
	}
}

type lineReader interface {
	ReadLine() (string, error)
}

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (s *scanReader) SetPrompt(prompt string) { s.prompt = prompt }

func (s *scanReader) ReadLine() (string, error) {
	_, _ = io.WriteString(s.out, s.prompt)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

type prompter interface {
	SetPrompt(string)
}

// Run reads messages until EOF, /exit or ctx cancellation.
func (r *REPL) Run(ctx context.Context, sessions *session.Manager) error {
	reader, restore, err := r.openInput()
	if err != nil {
		return err
	}
	defer restore()

	current := sessions.Create()
	r.printf("Connected to session %s. Type /help for commands.\n", current.ID)

	for {
		if ctx.Err() != nil {
			return nil
		}
		text, err := r.readMessage(reader)
		if errors.Is(err, io.EOF) {
			r.printf("\n")
			return nil
		}
		if err != nil {
			return err
		}

		text = strings.TrimSpace(text)
		switch {
		case text == "":
			continue
		case text == "/exit" || text == "/quit":
			return nil
		case text == "/help":
			r.printHelp()
			continue
		case text == "/reset":
			_ = sessions.Delete(current.ID)
			current = sessions.Create()
			r.printf("Started new session %s.\n", current.ID)
			continue
		case text == "/history":
			r.printHistory(sessions, current.ID)
			continue
		case text == "/usage":
			r.printUsage(ctx)
			continue
		case strings.HasPrefix(text, "/"):
			r.printf("Unknown command %s. Type /help for commands.\n", text)
			continue
		}

		r.turn(ctx, sessions, current.ID, text)
	}
}

func (r *REPL) turn(ctx context.Context, sessions *session.Manager, id, text string) {
	r.streamed.Store(false)
	reply, err := sessions.Send(ctx, id, text)
	if err != nil {
		if r.streamed.Load() {
			r.printf("\n")
		}
		r.logger.Warn("Turn failed: %v", err)
		r.printf("error: %v\n", err)
		return
	}

	if tools := toolCallsIn(reply.Messages); tools > 0 {
		r.logger.Debug("Turn used %d tool call(s)", tools)
	}
	if r.streamed.Load() {
		r.printf("\n")
		return
	}
	r.printf("%s\n", reply.Answer)
}

// readMessage joins lines ending in a backslash into one message.
func (r *REPL) readMessage(reader lineReader) (string, error) {
	var parts []string
	p, canPrompt := reader.(prompter)
	if canPrompt {
		defer p.SetPrompt(r.prompt)
	}
	for {
		line, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(parts) > 0 {
				return strings.Join(parts, "\n"), nil
			}
			return "", err
		}
		if !strings.HasSuffix(line, `\`) {
			parts = append(parts, line)
			return strings.Join(parts, "\n"), nil
		}
		parts = append(parts, strings.TrimSuffix(line, `\`))
		if canPrompt {
			p.SetPrompt(continuation)
		}
	}
}

func (r *REPL) openInput() (lineReader, func(), error) {
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to put terminal into raw mode: %w", err)
		}
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{r.in, r.out}, r.prompt)
		if width, height, err := term.GetSize(fd); err == nil {
			_ = t.SetSize(width, height)
		}
		r.out = t
		// Log lines go through the terminal so they get CRLF endings and keep the prompt intact.
		logx.SetOutput(t)
		return t, func() {
			logx.SetOutput(nil)
			_ = term.Restore(fd, state)
		}, nil
	}

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner, out: r.out, prompt: r.prompt}, func() {}, nil
}

func (r *REPL) printHelp() {
	r.printf(`Commands:
  /help     show this help
  /history  list the turns of this session
  /usage    show model token usage so far
  /reset    start a new session
  /exit     quit
End a line with \ to continue the message on the next line.
`)
}

func (r *REPL) printHistory(sessions *session.Manager, id string) {
	interactions, err := sessions.Interactions(id)
	if err != nil {
		r.printf("error: %v\n", err)
		return
	}
	if len(interactions) == 0 {
		r.printf("No turns yet.\n")
		return
	}
	for i := range interactions {
		in := &interactions[i]
		r.printf("%d. [%s, %s] %s\n", i+1, in.Timestamp.Format("15:04:05"), in.Duration.Round(time.Millisecond), firstLine(in.UserMessage))
	}
}

func (r *REPL) printUsage(ctx context.Context) {
	if r.usage == nil {
		r.printf("Usage metrics are not available.\n")
		return
	}
	usage, err := r.usage.GetUsageByModel(ctx)
	if err != nil {
		r.printf("error: %v\n", err)
		return
	}
	if len(usage) == 0 {
		r.printf("No model calls yet.\n")
		return
	}
	for i := range usage {
		u := &usage[i]
		r.printf("%-28s %-13s requests=%d errors=%d prompt=%d completion=%d\n",
			u.Model, u.Caller, u.Requests, u.Errors, u.PromptTokens, u.CompletionTokens)
	}
}

func (r *REPL) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func toolCallsIn(msgs []orchestrator.Message) int {
	n := 0
	for i := range msgs {
		n += len(msgs[i].ToolCalls)
	}
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
