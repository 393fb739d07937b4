// Package shell is the integration atshell installs into an interactive
// shell: dual-mode history navigation, key binding capture and restore,
// unmatched-command fallback and submission interception. The generated zsh
// and bash plugins handle key presses and bindings natively and call back
// into the recall, submit and unmatched subcommands, which run on State.
// InstallBinding and Restore describe the binding rules the plugins follow.
package shell

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/m4xw311/atshell/config"
	"go.uber.org/zap"
)

// HistoryMode says which history a navigation key operates on.
type HistoryMode int

const (
	// ModeNative delegates to the shell's own history.
	ModeNative HistoryMode = iota
	// ModeNL walks the natural-language log of the session.
	ModeNL
)

func (m HistoryMode) String() string {
	if m == ModeNL {
		return "nl"
	}
	return "native"
}

// Invoker runs the agent on a payload. It blocks until the agent is done.
type Invoker func(ctx context.Context, payload string) error

// UnmatchedHandler is a command-not-found handler. It returns the exit
// status the shell should report.
type UnmatchedHandler func(ctx context.Context, name string, args []string) int

// State is the integration state of one live shell. It is not safe for
// concurrent use; a shell runs one key press or submission at a time.
type State struct {
	prefix            string
	interceptExisting bool

	// entries is the NL log, oldest first.
	entries []string
	// cursor indexes entries; len(entries) means "not browsing".
	cursor int
	// draft is the buffer the user had typed before browsing started.
	draft string
	// NativeOffset counts steps back into native history in this prompt cycle.
	NativeOffset int

	records []BindingRecord
	binder  Binder

	// PreviousHandler is the unmatched-command handler that was installed
	// before ours, captured once at install time. Nil when there was none.
	PreviousHandler UnmatchedHandler

	invoke   Invoker
	refresh  func() ([]string, error)
	lookPath func(string) (string, error)
	stderr   io.Writer
	logger   *zap.Logger
}

type Option func(*State)

// WithBinder sets the key binding table bindings are installed into.
func WithBinder(b Binder) Option {
	return func(s *State) { s.binder = b }
}

// WithInvoker sets how submitted payloads reach the agent.
func WithInvoker(inv Invoker) Option {
	return func(s *State) { s.invoke = inv }
}

// WithRefresh sets how the NL log is reloaded after a submission.
func WithRefresh(f func() ([]string, error)) Option {
	return func(s *State) { s.refresh = f }
}

// WithPreviousHandler records the unmatched-command handler to chain to.
func WithPreviousHandler(h UnmatchedHandler) Option {
	return func(s *State) { s.PreviousHandler = h }
}

// WithLookPath replaces exec.LookPath for deciding whether a token names a
// real command.
func WithLookPath(f func(string) (string, error)) Option {
	return func(s *State) { s.lookPath = f }
}

func WithStderr(w io.Writer) Option {
	return func(s *State) { s.stderr = w }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *State) { s.logger = l }
}

func NewState(cfg config.ShellConfig, entries []string, opts ...Option) *State {
	s := &State{
		prefix:            cfg.TriggerPrefix,
		interceptExisting: cfg.InterceptExisting,
		lookPath:          exec.LookPath,
		stderr:            io.Discard,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetEntries(entries)
	return s
}

func (s *State) Prefix() string { return s.prefix }

// SetEntries replaces the NL log and stops browsing.
func (s *State) SetEntries(entries []string) {
	s.entries = append([]string(nil), entries...)
	s.cursor = len(s.entries)
	s.draft = ""
}

// Browsing reports whether the NL cursor is on an entry.
func (s *State) Browsing() bool { return s.cursor < len(s.entries) }

// ModeFor picks the history a navigation key acts on for buffer.
func (s *State) ModeFor(buffer string) HistoryMode {
	if s.prefix != "" && strings.HasPrefix(buffer, s.prefix) {
		return ModeNL
	}
	return ModeNative
}

// Navigation is the outcome of a history key.
type Navigation struct {
	Mode HistoryMode
	// Buffer is the new edit buffer. In native mode it is unchanged and the
	// caller runs the shell's own history widget.
	Buffer string
	// Moved is false when the key was a no-op, such as back on the oldest entry.
	Moved bool
}

// HistoryBack handles the "older" key.
func (s *State) HistoryBack(buffer string) Navigation {
	if s.ModeFor(buffer) == ModeNative {
		s.NativeOffset++
		return Navigation{Mode: ModeNative, Buffer: buffer, Moved: true}
	}
	if s.cursor == 0 || len(s.entries) == 0 {
		return Navigation{Mode: ModeNL, Buffer: buffer}
	}
	if !s.Browsing() {
		s.draft = buffer
	}
	s.cursor--
	return Navigation{Mode: ModeNL, Buffer: s.prefix + s.entries[s.cursor], Moved: true}
}

// HistoryForward handles the "newer" key. Moving past the newest entry
// restores the draft.
func (s *State) HistoryForward(buffer string) Navigation {
	if s.ModeFor(buffer) == ModeNative {
		if s.NativeOffset == 0 {
			return Navigation{Mode: ModeNative, Buffer: buffer}
		}
		s.NativeOffset--
		return Navigation{Mode: ModeNative, Buffer: buffer, Moved: true}
	}
	if !s.Browsing() {
		return Navigation{Mode: ModeNL, Buffer: buffer}
	}
	s.cursor++
	if !s.Browsing() {
		draft := s.draft
		s.draft = ""
		return Navigation{Mode: ModeNL, Buffer: draft, Moved: true}
	}
	return Navigation{Mode: ModeNL, Buffer: s.prefix + s.entries[s.cursor], Moved: true}
}

// NewPrompt starts a prompt cycle: nothing is being browsed.
func (s *State) NewPrompt() {
	s.NativeOffset = 0
	s.cursor = len(s.entries)
	s.draft = ""
}

// Intercepts reports whether a submitted buffer goes to the agent. A
// prefixed buffer whose first word is a real command runs natively unless
// intercept_existing is set.
func (s *State) Intercepts(buffer string) bool {
	if s.ModeFor(buffer) != ModeNL {
		return false
	}
	if s.interceptExisting {
		return true
	}
	fields := strings.Fields(buffer)
	if len(fields) == 0 {
		return false
	}
	_, err := s.lookPath(fields[0])
	return err != nil
}

// Payload strips the trigger prefix from an agent-directed buffer.
func (s *State) Payload(buffer string) string {
	return strings.TrimSpace(strings.TrimPrefix(buffer, s.prefix))
}

// Submission is what the shell should do with a submitted buffer.
type Submission struct {
	Intercepted bool
	// Buffer is the edit buffer after submission: cleared when intercepted.
	Buffer  string
	Payload string
	// Newline asks the shell to move below the prompt before any output.
	Newline bool
	// AddToHistory is false for agent payloads, which belong in the NL log only.
	AddToHistory bool
	Err          error
}

// Submit handles the accept-line key.
func (s *State) Submit(ctx context.Context, buffer string) Submission {
	if !s.Intercepts(buffer) {
		s.NewPrompt()
		return Submission{Buffer: buffer, AddToHistory: true}
	}
	sub := Submission{Intercepted: true, Payload: s.Payload(buffer), Newline: true}
	if sub.Payload != "" && s.invoke != nil {
		sub.Err = s.invoke(ctx, sub.Payload)
		if sub.Err != nil {
			s.logger.Warn("agent invocation failed", zap.Error(sub.Err))
		}
	}
	if s.refresh != nil {
		if entries, err := s.refresh(); err == nil {
			s.entries = entries
		} else {
			s.logger.Warn("could not refresh NL history", zap.Error(err))
		}
	}
	s.NewPrompt()
	return sub
}

// HandleUnmatched is the command-not-found path. A prefixed token becomes a
// payload together with its arguments; anything else goes to the previous
// handler, or is reported as not found.
func (s *State) HandleUnmatched(ctx context.Context, name string, args []string) int {
	if s.prefix != "" && strings.HasPrefix(name, s.prefix) {
		payload := strings.TrimSpace(strings.Join(append([]string{strings.TrimPrefix(name, s.prefix)}, args...), " "))
		if payload == "" {
			return 0
		}
		if s.invoke == nil {
			return 1
		}
		if err := s.invoke(ctx, payload); err != nil {
			s.logger.Warn("agent invocation failed", zap.Error(err))
			return 1
		}
		return 0
	}
	if s.PreviousHandler != nil {
		return s.PreviousHandler(ctx, name, args)
	}
	fmt.Fprintf(s.stderr, "%s: command not found\n", name)
	return 127
}

// Recall walks offset entries back from a fresh prompt and returns how far it
// got together with the entry there. Offset 0, or an empty log, yields the
// draft position and an empty entry.
func (s *State) Recall(offset int) (int, string) {
	s.NewPrompt()
	buf := s.prefix
	moved := 0
	for moved < offset {
		nav := s.HistoryBack(buf)
		if !nav.Moved {
			break
		}
		buf = nav.Buffer
		moved++
	}
	if moved == 0 {
		return 0, ""
	}
	return moved, s.Payload(buf)
}
