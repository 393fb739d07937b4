package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"go.uber.org/zap"
)

// timeoutGrace is how long the executor waits, after the deadline, for a
// tool to hand back its own (possibly partial) result.
const timeoutGrace = 2 * time.Second

// Executor runs tool calls one at a time under a per-call deadline. Only the
// tools it was built with can run.
type Executor struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  *zap.Logger
}

func NewExecutor(active []Tool, timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Tool, len(active))
	for _, t := range active {
		byName[t.Name()] = t
	}
	return &Executor{tools: byName, timeout: timeout, logger: logger}
}

type outcome struct {
	output string
	err    error
}

// Execute never returns an error: every failure, including a panicking tool,
// becomes a Result with Err set.
func (e *Executor) Execute(ctx context.Context, call session.ToolCall) Result {
	tool, ok := e.tools[call.Name]
	if !ok {
		e.logger.Warn("tool call outside the active toolset", zap.String("tool", call.Name), zap.String("call_id", call.ID))
		return Result{Err: newError(KindInvalidArguments, "tool %q is not available in this session", call.Name)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: newError(KindIOFailure, "tool %s panicked: %v", call.Name, r)}
			}
		}()
		out, err := tool.Execute(ctx, call.Args)
		done <- outcome{output: out, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		select {
		case o = <-done:
		case <-time.After(timeoutGrace):
			o = outcome{err: ctx.Err()}
		}
	}

	res := toResult(o, e.timeout)
	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", res.OK),
	}
	if res.Err != nil {
		fields = append(fields, zap.String("kind", string(res.Err.Kind)), zap.String("error", res.Err.Message))
	}
	e.logger.Info("tool call finished", fields...)
	return res
}

func toResult(o outcome, timeout time.Duration) Result {
	if o.err == nil {
		return Result{OK: true, Output: o.output}
	}
	var te *Error
	if errors.As(o.err, &te) {
		return Result{Output: o.output, Err: te}
	}
	if errors.Is(o.err, context.DeadlineExceeded) {
		return Result{Output: o.output, Err: newError(KindTimeout, "no result within %s", timeout)}
	}
	return Result{Output: o.output, Err: &Error{Kind: KindIOFailure, Message: fmt.Sprint(o.err)}}
}
