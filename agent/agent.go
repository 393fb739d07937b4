package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/llm"
	"github.com/m4xw311/atshell/protocol"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// State is where a run ended.
type State string

const (
	StateDone   State = "done"
	StateFailed State = "failed"
)

// StepLimitNotice is narrated when the model is still calling tools after
// the last allowed step.
const StepLimitNotice = "step limit reached"

// deniedByUser is the tool result the model sees for a refused call.
const deniedByUser = "denied by user"

// ProcessCallbacks lets the caller observe a run as it happens. Any field may
// be nil.
type ProcessCallbacks struct {
	// OnAssistantMessage receives the human part of every model message.
	OnAssistantMessage func(message string)
	// OnToolCall fires before a call runs. step counts provider round trips.
	OnToolCall func(step, maxSteps int, toolCall session.ToolCall)
	OnToolResult func(toolCall session.ToolCall, result tools.Result)
	// ShouldExecuteTool gates each call; returning false skips it and the
	// model is told the user denied it.
	ShouldExecuteTool func(ctx context.Context, toolCall session.ToolCall) bool
	// OnWarning receives non-fatal problems such as malformed directives.
	OnWarning func(warning string)
}

// Result is the outcome of one payload.
type Result struct {
	// Directives are the validated lines for the shell, in order.
	Directives []protocol.Directive
	// Narration is the human part of the final answer.
	Narration string
	// Notice is set when the run concluded on a policy limit.
	Notice string
	// Builtin names the local command that handled the payload, if any.
	Builtin   string
	State     State
	Steps     int
	ToolCalls int
	// Err is the provider or storage failure behind StateFailed.
	Err error
}

// Agent runs one payload through the model and the tools of a session.
type Agent struct {
	Config         *config.Config
	Store          *session.Store
	LLMClient      llm.LLMClient
	Registry       *tools.ToolRegistry
	Executor       *tools.Executor
	AvailableTools []tools.Tool
	Mode           Mode
	Verbosity      ToolVerbosity

	prompter tools.Prompter
	logger   *zap.Logger
}

type Option func(*options)

type options struct {
	logger   *zap.Logger
	prompter tools.Prompter
	workDir  string
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPrompter sets the channel used by ask_user and by prompt mode.
func WithPrompter(p tools.Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// WithWorkDir sets the directory run_cmd starts in. Defaults to the process
// working directory.
func WithWorkDir(dir string) Option {
	return func(o *options) { o.workDir = dir }
}

func New(cfg *config.Config, store *session.Store, toolset string, mode Mode, client llm.LLMClient, verbosity ToolVerbosity, opts ...Option) (*Agent, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prompter == nil {
		o.prompter = tools.NewTTYPrompter()
	}

	switch mode {
	case ModeAuto, ModePrompt:
	default:
		return nil, errors.Mark(errors.New("unknown mode %q", mode), errors.ErrInvocation)
	}
	switch verbosity {
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
	default:
		return nil, errors.Mark(errors.New("unknown tool verbosity %q", verbosity), errors.ErrInvocation)
	}

	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("session", store.Name()))
	registry := tools.NewToolRegistry(cfg,
		tools.WithPrompter(o.prompter),
		tools.WithWorkDir(o.workDir),
		tools.WithRegistryLogger(logger),
	)
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}

	return &Agent{
		Config:         cfg,
		Store:          store,
		LLMClient:      client,
		Registry:       registry,
		Executor:       tools.NewExecutor(activeTools, time.Duration(cfg.Agent.TimeoutSec)*time.Second, logger),
		AvailableTools: activeTools,
		Mode:           mode,
		Verbosity:      verbosity,
		prompter:       o.prompter,
		logger:         logger,
	}, nil
}

// ConfirmTool asks the user whether call may run. Anything but yes, or no
// terminal at all, is a refusal.
func (a *Agent) ConfirmTool(ctx context.Context, call session.ToolCall) bool {
	answer, err := a.prompter.Ask(ctx, fmt.Sprintf("Allow %s? [y/N]", call.Summary()))
	if err != nil {
		a.logger.Info("tool confirmation unavailable", zap.String("tool", call.Name), zap.Error(err))
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// ProcessUserInput runs payload to completion. The returned error is
// reserved for invocation problems and for storage failures before the first
// provider call; later provider and storage failures end the run in
// StateFailed and are reported through Result.Err.
func (a *Agent) ProcessUserInput(ctx context.Context, payload string, callbacks ProcessCallbacks) (*Result, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errors.Mark(errors.New("empty payload"), errors.ErrInvocation)
	}
	if res, ok, err := a.runBuiltin(payload); ok {
		return res, err
	}

	res := &Result{State: StateDone}
	fail := func(err error, what string) (*Result, error) {
		a.logger.Error(what, zap.Error(err))
		res.State = StateFailed
		res.Err = err
		return res, nil
	}

	messages, err := a.buildContext(payload)
	if err != nil {
		a.logger.Error("could not build context", zap.Error(err))
		return nil, err
	}

	maxSteps := a.Config.Agent.MaxSteps
	maxCalls := a.Config.Agent.MaxToolCallsPerStep
	var final string
	concluded := false

	for step := 1; step <= maxSteps; step++ {
		res.Steps = step
		reply, err := a.chat(ctx, messages)
		if err != nil {
			return fail(err, "provider call failed")
		}
		a.logger.Debug("provider replied", zap.Int("step", step), zap.Int("tool_calls", len(reply.ToolCalls)))

		if len(reply.ToolCalls) > maxCalls {
			// None of the batch runs.
			res.Notice = fmt.Sprintf("policy: the model asked for %d tool calls in one step, the limit is %d; nothing was run",
				len(reply.ToolCalls), maxCalls)
			a.logger.Warn("tool call batch rejected", zap.Int("requested", len(reply.ToolCalls)), zap.Int("limit", maxCalls))
			text := *reply
			text.ToolCalls = nil
			if err := a.Store.Append(text); err != nil {
				return fail(err, "could not record reply")
			}
			final = reply.Content
			concluded = true
			break
		}

		if err := a.Store.Append(*reply); err != nil {
			return fail(err, "could not record reply")
		}
		messages = append(messages, *reply)

		if len(reply.ToolCalls) == 0 {
			final = reply.Content
			concluded = true
			break
		}

		if human := a.collect(res, reply.Content, callbacks); human != "" && callbacks.OnAssistantMessage != nil {
			callbacks.OnAssistantMessage(human)
		}
		for _, call := range reply.ToolCalls {
			messages = append(messages, a.runTool(ctx, step, call, callbacks))
			res.ToolCalls++
		}
	}

	if !concluded {
		res.Notice = StepLimitNotice
		a.logger.Warn("step limit reached", zap.Int("max_steps", maxSteps))
	}

	res.Narration = a.collect(res, final, callbacks)
	a.followCwd(res)
	return res, nil
}

func (a *Agent) chat(ctx context.Context, messages []session.Message) (*session.Message, error) {
	timeout := time.Duration(a.Config.Agent.ProviderTimeoutSec) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := a.LLMClient.Chat(ctx, messages, a.AvailableTools)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrProvider)
	}
	if reply == nil {
		return nil, errors.Mark(errors.New("provider returned no message"), errors.ErrProvider)
	}
	reply.Role = session.RoleAssistant
	return reply, nil
}

// runTool executes one call, or records the refusal, and returns the tool
// message for the provider context.
func (a *Agent) runTool(ctx context.Context, step int, call session.ToolCall, callbacks ProcessCallbacks) session.Message {
	if callbacks.OnToolCall != nil {
		callbacks.OnToolCall(step, a.Config.Agent.MaxSteps, call)
	}

	allow := callbacks.ShouldExecuteTool
	if allow == nil && a.Mode == ModePrompt {
		allow = a.ConfirmTool
	}

	var result tools.Result
	if allow != nil && !allow(ctx, call) {
		result = tools.Result{Err: &tools.Error{Kind: tools.KindPolicyDenied, Message: deniedByUser}}
	} else {
		result = a.Executor.Execute(ctx, call)
	}

	if callbacks.OnToolResult != nil {
		callbacks.OnToolResult(call, result)
	}
	return session.Message{
		Role:       session.RoleTool,
		Content:    result.Content(),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    !result.OK,
	}
}

// collect moves the directive lines of text into res and returns the rest.
func (a *Agent) collect(res *Result, text string, callbacks ProcessCallbacks) string {
	directives, human, violations := protocol.Split(text)
	res.Directives = append(res.Directives, directives...)
	for _, v := range violations {
		a.logger.Warn("dropped directive", zap.Error(v))
		if callbacks.OnWarning != nil {
			callbacks.OnWarning(fmt.Sprintf("dropped malformed directive: %v", v))
		}
	}
	return human
}

// followCwd adds a cd to the directory run_cmd ended in, unless the model
// already moved the shell itself.
func (a *Agent) followCwd(res *Result) {
	if !a.Config.Agent.FollowCwd || protocol.HasVerb(res.Directives, "cd") {
		return
	}
	runCmd := a.Registry.RunCommand()
	if !runCmd.Moved() {
		return
	}
	d, err := protocol.Cd(runCmd.WorkDir())
	if err != nil {
		a.logger.Warn("cannot follow working directory", zap.Error(err))
		return
	}
	res.Directives = append(res.Directives, d)
}
