package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"go.uber.org/zap"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds the tools available to one agent run. It is not shared
// between runs because run_cmd tracks a working directory.
type ToolRegistry struct {
	tools  map[string]Tool
	order  []string
	runCmd *RunCommandTool
	logger *zap.Logger
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	prompter Prompter
	workDir  string
	logger   *zap.Logger
}

// WithPrompter replaces the terminal prompter used by ask_user.
func WithPrompter(p Prompter) RegistryOption {
	return func(o *registryOptions) { o.prompter = p }
}

// WithWorkDir sets the initial working directory of run_cmd.
func WithWorkDir(dir string) RegistryOption {
	return func(o *registryOptions) { o.workDir = dir }
}

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

func NewToolRegistry(cfg *config.Config, opts ...RegistryOption) *ToolRegistry {
	o := registryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prompter == nil {
		o.prompter = NewTTYPrompter()
	}

	r := &ToolRegistry{tools: make(map[string]Tool), logger: o.logger}
	r.runCmd = NewRunCommandTool(cfg.AllowedCommands, cfg.Tools.MaxOutputBytes, o.workDir, o.logger)

	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess, workDir: r.runCmd.WorkDir})
	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess, workDir: r.runCmd.WorkDir})
	r.Register(r.runCmd)
	r.Register(&AskUserTool{prompter: o.prompter})
	return r
}

func (r *ToolRegistry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool in registration order.
func (r *ToolRegistry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// RunCommand exposes run_cmd so callers can read the tracked directory.
func (r *ToolRegistry) RunCommand() *RunCommandTool { return r.runCmd }

// GetActiveTools returns the tool instances for a given toolset.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		t, ok := r.GetTool(toolName)
		if !ok {
			return nil, errors.Mark(errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name), errors.ErrInvocation)
		}
		activeTools = append(activeTools, t)
	}
	return activeTools, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex
// support). An empty allowlist permits everything.
func isCommandAllowed(command string, allowed []string, logger *zap.Logger) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}
	if len(allowed) == 0 {
		return true
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", zap.String("pattern", pattern), zap.Error(err))
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := args[name].(string); ok {
			return v, true
		}
	}
	return "", false
}
