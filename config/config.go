package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/atshell/errors"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is used whenever prompt.system_prompt is empty.
const DefaultSystemPrompt = `You are atshell, an assistant embedded in the user's interactive shell.
Use the tools to inspect and change the local machine: read_file, write_file,
run_cmd (runs in a detached sh, not in the user's shell) and ask_user.
When the user's own shell must change state, end your answer with directive
lines, one per line, exactly in the form:
ADD cd <dir>
ADD export NAME=value
Allowed verbs: cd, pushd, popd, export, unset, alias, unalias, source.
Never put anything else on an ADD line. Keep the rest of the answer short.`

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// AgentConfig bounds one loop run and locates the session history.
type AgentConfig struct {
	MaxSteps            int    `yaml:"max_steps"`
	MaxToolCallsPerStep int    `yaml:"max_tool_calls_per_step"`
	TimeoutSec          int    `yaml:"timeout_sec"`
	ProviderTimeoutSec  int    `yaml:"provider_timeout_sec"`
	HistoryDir          string `yaml:"history_dir"`
	Session             string `yaml:"session"`
	FollowCwd           bool   `yaml:"follow_cwd"`
	Mode                string `yaml:"mode"`
}

type PromptConfig struct {
	SystemPrompt     string `yaml:"system_prompt"`
	CustomPrompt     string `yaml:"custom_prompt"`
	CustomPromptMode string `yaml:"custom_prompt_mode"`
}

type UIConfig struct {
	ToolVerbosity   string `yaml:"tool_verbosity"`
	ShowStepSummary bool   `yaml:"show_step_summary"`
	RenderMarkdown  bool   `yaml:"render_markdown"`
}

type ToolsConfig struct {
	MaxOutputBytes int64 `yaml:"max_output_bytes"`
}

type HistoryKeys struct {
	Back    []string `yaml:"back"`
	Forward []string `yaml:"forward"`
}

// ShellConfig drives the generated shell plugins.
type ShellConfig struct {
	TriggerPrefix string `yaml:"trigger_prefix"`
	// InterceptExisting makes the unmatched-command path take prefixed words
	// even when they name a real executable.
	InterceptExisting bool        `yaml:"intercept_existing"`
	HistoryKeys       HistoryKeys `yaml:"history_keys"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	LLMClient        string           `yaml:"llm"`
	Model            string           `yaml:"model"`
	BaseURL          string           `yaml:"base_url"`
	APIKeyEnv        string           `yaml:"api_key_env"`
	Agent            AgentConfig      `yaml:"agent"`
	Prompt           PromptConfig     `yaml:"prompt"`
	UI               UIConfig         `yaml:"ui"`
	Tools            ToolsConfig      `yaml:"tools"`
	Toolsets         []Toolset        `yaml:"toolsets"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	Shell            ShellConfig      `yaml:"shell"`
	Logging          LoggingConfig    `yaml:"logging"`

	// Sources lists the files that were merged, lowest precedence first.
	Sources []string `yaml:"-"`
}

// Default returns the built-in configuration every file is layered over.
func Default() *Config {
	home := homeDir()
	return &Config{
		LLMClient: "openai",
		Model:     "gpt-4.1-mini",
		Agent: AgentConfig{
			MaxSteps:            20,
			MaxToolCallsPerStep: 8,
			TimeoutSec:          60,
			ProviderTimeoutSec:  120,
			HistoryDir:          filepath.Join(home, ".atshell", "history"),
			Session:             "default",
			FollowCwd:           true,
			Mode:                "auto",
		},
		Prompt: PromptConfig{
			CustomPromptMode: "developer",
		},
		UI: UIConfig{
			ToolVerbosity:   "info",
			ShowStepSummary: true,
			RenderMarkdown:  true,
		},
		Tools: ToolsConfig{MaxOutputBytes: 64 * 1024},
		Toolsets: []Toolset{
			{Name: "default", Tools: []string{"read_file", "write_file", "run_cmd", "ask_user"}},
		},
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{"**/.atshell/history/**"},
		},
		Shell: ShellConfig{
			TriggerPrefix: "@",
			HistoryKeys: HistoryKeys{
				Back:    []string{"^[[A", "^[OA"},
				Forward: []string{"^[[B", "^[OB"},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, ".atshell", "logs", "atshell.log"),
		},
	}
}

// LoadConfig loads configuration from the user's home directory, the current
// working directory and finally an explicit file (argument or $ATSHELL_CONFIG),
// each layer taking precedence over the previous one.
func LoadConfig(explicitPath string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userConfigPath := filepath.Join(home, ".atshell", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(errors.Mark(err, errors.ErrInvocation), "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".atshell", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil && !contains(cfg.Sources, projectConfigPath) {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(errors.Mark(err, errors.ErrInvocation), "error loading project config")
		}
	}

	if explicitPath == "" {
		explicitPath = os.Getenv("ATSHELL_CONFIG")
	}
	if explicitPath != "" {
		if err := loadFromFile(ExpandHome(explicitPath), cfg); err != nil {
			return nil, errors.Wrapf(errors.Mark(err, errors.ErrInvocation), "error loading config %s", explicitPath)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so later
	// layers replace earlier ones key by key.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.Sources = append(cfg.Sources, path)
	return nil
}

func (c *Config) normalize() {
	c.Agent.HistoryDir = ExpandHome(c.Agent.HistoryDir)
	c.Logging.File = ExpandHome(c.Logging.File)
	if strings.TrimSpace(c.Prompt.SystemPrompt) == "" {
		c.Prompt.SystemPrompt = DefaultSystemPrompt
	}
	if c.LLMClient == "lmstudio" && c.BaseURL == "" {
		c.BaseURL = "http://localhost:1234/v1"
	}
}

// Validate rejects values the agent cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Agent.MaxSteps < 1:
		return errors.Mark(errors.New("agent.max_steps must be at least 1, got %d", c.Agent.MaxSteps), errors.ErrInvocation)
	case c.Agent.MaxToolCallsPerStep < 1:
		return errors.Mark(errors.New("agent.max_tool_calls_per_step must be at least 1, got %d", c.Agent.MaxToolCallsPerStep), errors.ErrInvocation)
	case c.Agent.TimeoutSec < 1:
		return errors.Mark(errors.New("agent.timeout_sec must be at least 1, got %d", c.Agent.TimeoutSec), errors.ErrInvocation)
	case c.Agent.HistoryDir == "":
		return errors.Mark(errors.New("agent.history_dir is empty"), errors.ErrInvocation)
	case c.Shell.TriggerPrefix == "" || strings.ContainsAny(c.Shell.TriggerPrefix, " \t\n"):
		return errors.Mark(errors.New("shell.trigger_prefix must be non-empty and contain no whitespace"), errors.ErrInvocation)
	}
	switch c.Prompt.CustomPromptMode {
	case "developer", "system":
	default:
		return errors.Mark(errors.New("prompt.custom_prompt_mode must be 'developer' or 'system', got %q", c.Prompt.CustomPromptMode), errors.ErrInvocation)
	}
	switch c.Agent.Mode {
	case "auto", "prompt":
	default:
		return errors.Mark(errors.New("agent.mode must be 'auto' or 'prompt', got %q", c.Agent.Mode), errors.ErrInvocation)
	}
	switch c.UI.ToolVerbosity {
	case "none", "info", "all":
	default:
		return errors.Mark(errors.New("ui.tool_verbosity must be 'none', 'info' or 'all', got %q", c.UI.ToolVerbosity), errors.ErrInvocation)
	}
	return nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.Mark(errors.New("mandatory 'default' toolset not found in configuration"), errors.ErrInvocation)
	}
	return c.GetToolset("default")
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize config")
	}
	return string(data), nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
