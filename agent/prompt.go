package agent

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"go.uber.org/zap"
)

// buildContext assembles the provider context for payload and records the
// new turn in both logs before anything is sent.
func (a *Agent) buildContext(payload string) ([]session.Message, error) {
	var messages []session.Message

	prompt := a.Config.Prompt
	custom := strings.TrimSpace(prompt.CustomPrompt)
	var system []string
	if s := strings.TrimSpace(prompt.SystemPrompt); s != "" {
		system = append(system, s)
	}
	if custom != "" && prompt.CustomPromptMode == "system" {
		system = append(system, custom)
		custom = ""
	}
	system = append(system, a.systemContext())
	messages = append(messages, session.Message{Role: session.RoleSystem, Content: strings.Join(system, "\n\n")})
	if custom != "" {
		messages = append(messages, session.Message{Role: session.RoleDeveloper, Content: custom})
	}

	history, err := a.Store.Load()
	if err != nil {
		return nil, errors.Wrapf(err, "could not load history")
	}
	a.logger.Debug("history loaded", zap.Int("entries", len(history)))
	messages = append(messages, history...)

	user := session.Message{Role: session.RoleUser, Content: payload}
	// The turn goes in first so an NL entry always has a conversation behind it.
	if err := a.Store.Append(user); err != nil {
		return nil, errors.Wrapf(err, "could not record payload")
	}
	if err := a.Store.AppendNL(payload); err != nil {
		return nil, errors.Wrapf(err, "could not record payload")
	}
	return append(messages, user), nil
}

// systemContext describes the machine the commands will run on.
func (a *Agent) systemContext() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}

	var b strings.Builder
	b.WriteString("System context:\n")
	fmt.Fprintf(&b, "- Operating system: %s (%s)\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "- Shell: %s (%s)\n", filepath.Base(shell), shell)
	fmt.Fprintf(&b, "- Current directory: %s\n", a.Registry.RunCommand().WorkDir())
	fmt.Fprintf(&b, "- User: %s@%s\n", name, host)
	fmt.Fprintf(&b, "- Session: %s", a.Store.Name())
	return b.String()
}
