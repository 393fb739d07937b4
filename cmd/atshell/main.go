package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/m4xw311/atshell/agent"
	"github.com/m4xw311/atshell/agent/terminal"
	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/llm"
	"github.com/m4xw311/atshell/logging"
	"github.com/m4xw311/atshell/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := a.rootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			return int(status)
		}
		fmt.Fprintf(stderr, "atshell: %v\n", err)
		return 1
	}
	return 0
}

// exitStatus ends a command with a given status and no message. The plugin
// hooks read these.
type exitStatus int

func (s exitStatus) Error() string { return "exit status " + strconv.Itoa(int(s)) }

// statusPassThrough tells the accept-line hook to let the shell run the line.
const statusPassThrough exitStatus = 3

type rootOptions struct {
	session    string
	configPath string
	mode       string
	verbosity  string
	toolset    string
	verbose    bool
}

// app carries what every command shares: the standard streams, the loaded
// configuration and the logger.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	// newClient builds the provider client; tests swap in a scripted one.
	newClient func(ctx context.Context, cfg *config.Config) (llm.LLMClient, error)
	opts      rootOptions
	cfg       *config.Config
	logger    *zap.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		newClient: llm.NewClient,
		logger:    zap.NewNop(),
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atshell [flags] [--] request...",
		Short: "Natural-language requests from your shell prompt",
		Long: `atshell sends a natural-language request to a language model that can read
and write files, run commands and ask you questions. Shell state changes it
wants (cd, export, alias, ...) are printed on stdout as ADD directives for the
shell plugin to replay; everything meant for you goes to stderr.

Install the shell integration with:
  eval "$(atshell init zsh)"    # or bash

then type requests at the prompt behind the trigger prefix, e.g. "@list big files".`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
		RunE: a.runAgent,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.opts.session, "session", "s", "", "session id (default $ATSHELL_SESSION or agent.session)")
	pf.StringVarP(&a.opts.configPath, "config", "c", "", "extra configuration file (default $ATSHELL_CONFIG)")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "log at debug level")

	f := root.Flags()
	f.StringVarP(&a.opts.mode, "mode", "m", "", "tool execution mode: auto or prompt (default agent.mode)")
	f.StringVar(&a.opts.verbosity, "tool-verbosity", "", "tool narration: none, info or all (default ui.tool_verbosity)")
	f.StringVarP(&a.opts.toolset, "toolset", "t", "default", "toolset to offer the model")

	root.AddCommand(
		a.initCmd(),
		a.resetCmd(),
		a.nlHistoryCmd(),
		a.recallCmd(),
		a.dispatchCheckCmd(),
		a.configCmd(),
		a.mcpCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, a.opts.verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.logger.Debug("configuration loaded", zap.Strings("sources", cfg.Sources))
	return nil
}

func (a *app) sessionName() string {
	if a.opts.session != "" {
		return a.opts.session
	}
	if s := os.Getenv("ATSHELL_SESSION"); s != "" {
		return s
	}
	return a.cfg.Agent.Session
}

func (a *app) openStore() (*session.Store, error) {
	return session.Open(a.cfg.Agent.HistoryDir, a.sessionName(), session.WithLogger(a.logger))
}

func (a *app) runAgent(cmd *cobra.Command, args []string) error {
	payload := strings.TrimSpace(strings.Join(args, " "))
	if payload == "" {
		return errors.Mark(errors.New("no request given; usage: atshell [flags] -- request..."), errors.ErrInvocation)
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	return a.ask(cmd.Context(), store, payload)
}

// ask runs the agent on one payload, writing directives to stdout and
// narration to stderr.
func (a *app) ask(ctx context.Context, store *session.Store, payload string) error {
	mode := a.opts.mode
	if mode == "" {
		mode = a.cfg.Agent.Mode
	}
	verbosity := a.opts.verbosity
	if verbosity == "" {
		verbosity = a.cfg.UI.ToolVerbosity
	}
	toolset := a.opts.toolset
	if toolset == "" {
		toolset = "default"
	}

	client, err := a.newClient(ctx, a.cfg)
	if err != nil {
		return err
	}
	ag, err := agent.New(a.cfg, store, toolset, agent.Mode(mode), client, agent.ToolVerbosity(verbosity),
		agent.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.logger.Info("request", zap.String("session", store.Name()), zap.String("llm", a.cfg.LLMClient), zap.String("model", a.cfg.Model))
	res, err := terminal.New(ag, a.stdout, a.stderr).Run(ctx, payload)
	if err != nil {
		return err
	}
	a.logger.Info("request finished", zap.String("state", string(res.State)),
		zap.Int("steps", res.Steps), zap.Int("tool_calls", res.ToolCalls), zap.Int("directives", len(res.Directives)))
	return nil
}
