// Package agent provides the agent loop behind every atshell invocation.
//
// One invocation handles one payload: the text the user typed after the
// trigger prefix. The Agent loads the session history, asks the model, runs
// the tools the model requests and repeats until the model answers with plain
// text or the step budget runs out. The answer is split into directive lines
// for the invoking shell and narration for the user.
//
// # Architecture
//
//   - Core agent (this package): the loop, prompt assembly, builtins and
//     follow-cwd.
//   - Terminal subpackage (agent/terminal): renders a run for a terminal,
//     writing directives on stdout and narration on stderr.
//
// # Usage
//
//	a, err := agent.New(cfg, store, "default", agent.ModeAuto, client, agent.ToolVerbosityInfo)
//	if err != nil {
//	    // handle error
//	}
//	res, err := a.ProcessUserInput(ctx, "show me the biggest files here", agent.ProcessCallbacks{
//	    OnToolCall: func(step, max int, call session.ToolCall) {
//	        // narrate progress
//	    },
//	})
//
// # Budgets
//
// A step is one provider round trip. At most Config.Agent.MaxSteps round
// trips are made; if the model still wants tools after the last one the run
// concludes with StepLimitNotice. A reply asking for more than
// Config.Agent.MaxToolCallsPerStep calls is refused as a whole and the run
// concludes with a policy notice. Each tool call runs under its own
// Config.Agent.TimeoutSec deadline.
//
// # Failures
//
// Tool failures are handed back to the model and never end the run. Provider
// and storage failures end the run in StateFailed; the history written so far
// is kept. Neither is returned as an error, except that a history that cannot
// be loaded or recorded before the first provider call fails ProcessUserInput
// with ErrStorage. Invocation problems such as an empty payload fail it too.
//
// # Modes
//
//   - ModeAuto: tools run without confirmation.
//   - ModePrompt: every call is confirmed on the terminal first. A refusal,
//     or no terminal, becomes the tool result "denied by user".
//
// # Builtins
//
// reset (also /reset and reset_session), show_config and help are answered
// locally and never reach the model.
package agent
