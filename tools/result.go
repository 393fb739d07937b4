package tools

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a tool failure. Every kind is reported back to the
// model as a tool result; none of them stop the agent loop.
type ErrorKind string

const (
	KindTimeout              ErrorKind = "timeout"
	KindNonZeroExit          ErrorKind = "non_zero_exit"
	KindIOFailure            ErrorKind = "io_failure"
	KindNotFound             ErrorKind = "not_found"
	KindNoInteractiveChannel ErrorKind = "no_interactive_channel"
	KindInvalidArguments     ErrorKind = "invalid_arguments"
	KindPolicyDenied         ErrorKind = "policy_denied"
)

type Error struct {
	Kind    ErrorKind
	Message string
	// ExitCode is set for KindNonZeroExit.
	ExitCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Result is the outcome of one tool call. Output may be non-empty on failure
// (partial command output, for example).
type Result struct {
	OK     bool
	Output string
	Err    *Error
}

// Content renders the result as the text handed back to the model.
func (r Result) Content() string {
	if r.OK {
		return r.Output
	}
	var b strings.Builder
	fmt.Fprintf(&b, "error (%s): %s", r.Err.Kind, r.Err.Message)
	if r.Output != "" {
		b.WriteString("\noutput:\n")
		b.WriteString(r.Output)
	}
	return b.String()
}
