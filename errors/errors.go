package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinels for the failure classes the agent distinguishes. Wrap them with
// Wrapf and test with Is.
var (
	// ErrProvider marks network, auth or malformed-response failures from the model backend.
	ErrProvider = stderrors.New("provider error")
	// ErrPolicy marks budget violations: too many tool calls in a step, step limit reached.
	ErrPolicy = stderrors.New("policy error")
	// ErrProtocolViolation marks a would-be directive line that fails the grammar.
	ErrProtocolViolation = stderrors.New("protocol violation")
	// ErrBindingInstall marks a key binding override that had to be rolled back.
	ErrBindingInstall = stderrors.New("binding install error")
	// ErrStorage marks an unreadable or unwritable history file.
	ErrStorage = stderrors.New("storage error")
	// ErrInvocation marks a bad session name or fatal configuration.
	ErrInvocation = stderrors.New("invocation error")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Mark tags err with one of the sentinels above while keeping err itself
// reachable through Is and As.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, kind) {
		return err
	}
	return &marked{err: err, kind: kind}
}

type marked struct {
	err  error
	kind error
}

func (m *marked) Error() string { return m.err.Error() }

func (m *marked) Unwrap() []error { return []error{m.kind, m.err} }

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
