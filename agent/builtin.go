package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	BuiltinReset      = "reset"
	BuiltinShowConfig = "show_config"
	BuiltinShowHelp   = "show_help"
)

var builtins = map[string]string{
	"reset":         BuiltinReset,
	"/reset":        BuiltinReset,
	"reset_session": BuiltinReset,
	"show_config":   BuiltinShowConfig,
	"/config":       BuiltinShowConfig,
	"show_help":     BuiltinShowHelp,
	"help":          BuiltinShowHelp,
	"/help":         BuiltinShowHelp,
}

// ParseBuiltin maps a payload to the local command it names, if any. Only
// the whole payload counts: "reset the router" goes to the model.
func ParseBuiltin(payload string) (string, bool) {
	name, ok := builtins[strings.ToLower(strings.TrimSpace(payload))]
	return name, ok
}

// runBuiltin handles payloads that never reach the provider.
func (a *Agent) runBuiltin(payload string) (*Result, bool, error) {
	name, ok := ParseBuiltin(payload)
	if !ok {
		return nil, false, nil
	}
	a.logger.Info("builtin", zap.String("name", name))

	res := &Result{Builtin: name, State: StateDone}
	switch name {
	case BuiltinReset:
		if err := a.Store.Reset(); err != nil {
			res.State = StateFailed
			res.Err = err
			return res, true, nil
		}
		res.Narration = "✅ reset"
	case BuiltinShowConfig:
		out, err := a.Config.YAML()
		if err != nil {
			return nil, true, err
		}
		res.Narration = strings.TrimRight(out, "\n")
	case BuiltinShowHelp:
		res.Narration = a.help()
	}
	return res, true, nil
}

func (a *Agent) help() string {
	var b strings.Builder
	prefix := a.Config.Shell.TriggerPrefix
	fmt.Fprintf(&b, "Type %s<request> at the prompt to ask the agent, e.g. %sfind large files here.\n", prefix, prefix)
	b.WriteString("\nLocal commands (never sent to the model):\n")
	fmt.Fprintf(&b, "  %sreset        clear this session's conversation and request history\n", prefix)
	fmt.Fprintf(&b, "  %sshow_config  print the effective configuration\n", prefix)
	fmt.Fprintf(&b, "  %shelp         show this text\n", prefix)
	fmt.Fprintf(&b, "\nSession: %s (%s)\n", a.Store.Name(), a.Store.Dir())
	fmt.Fprintf(&b, "Model: %s via %s, mode %s, at most %d steps.", a.Config.Model, a.Config.LLMClient, a.Mode, a.Config.Agent.MaxSteps)
	return b.String()
}
