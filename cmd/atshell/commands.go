package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/protocol"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/shell"
	"github.com/m4xw311/atshell/tools"
	"github.com/m4xw311/atshell/tools/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) initCmd() *cobra.Command {
	var binary string
	cmd := &cobra.Command{
		Use:       "init zsh|bash",
		Short:     "Print the shell integration script",
		Example:   `  eval "$(atshell init zsh)"`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: shell.Shells,
		RunE: func(cmd *cobra.Command, args []string) error {
			if binary == "" {
				exe, err := os.Executable()
				if err != nil {
					return errors.Wrapf(err, "could not locate the atshell binary")
				}
				binary = exe
			}
			p, err := shell.NewPluginParams(binary, a.sessionName(), a.cfg.Shell)
			if err != nil {
				return err
			}
			script, err := shell.Plugin(args[0], p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.stdout, script)
			return err
		},
	}
	cmd.Flags().StringVar(&binary, "binary", "", "path the plugin calls atshell by (default this executable)")
	return cmd
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the conversation and NL history of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "session %s reset\n", store.Name())
			return nil
		},
	}
}

func (a *app) nlHistoryCmd() *cobra.Command {
	var nul bool
	cmd := &cobra.Command{
		Use:   "nl-history",
		Short: "Print the natural-language requests of a session, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			entries, err := store.LoadNL()
			if err != nil {
				return err
			}
			sep := "\n"
			if nul {
				sep = "\x00"
			}
			w := bufio.NewWriter(a.stdout)
			for _, e := range entries {
				w.WriteString(e)
				w.WriteString(sep)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&nul, "null", "z", false, "terminate entries with NUL instead of newline")
	return cmd
}

func (a *app) recallCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Print the NL history entry a number of steps back",
		Long: `recall walks --offset entries back through the session's NL history, stopping
at the oldest, and prints "<steps actually taken>\t<entry>". Offset 0 is the
draft position and prints "0\t".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offset < 0 {
				return errors.Mark(errors.New("--offset must not be negative"), errors.ErrInvocation)
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			entries, err := store.LoadNL()
			if err != nil {
				return err
			}
			st := shell.NewState(a.cfg.Shell, entries, shell.WithLogger(a.logger))
			n, entry := st.Recall(offset)
			_, err = fmt.Fprintf(a.stdout, "%d\t%s\n", n, entry)
			return err
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "steps back from the newest entry")
	return cmd
}

func (a *app) dispatchCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch-check [line...]",
		Short: "Validate directive lines and encode them for the shell dispatcher",
		Long: `dispatch-check reads directive lines from its arguments, or from stdin when
there are none. Lines that are not directives are ignored. Each valid directive
is printed as NUL-terminated fields: the word count, then the words. Malformed
directives are reported on stderr and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := args
			if len(lines) == 0 {
				sc := bufio.NewScanner(a.stdin)
				sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
				for sc.Scan() {
					lines = append(lines, sc.Text())
				}
				if err := sc.Err(); err != nil {
					return errors.Wrapf(err, "could not read directives")
				}
			}

			var rec shell.Recorder
			for _, line := range lines {
				if !protocol.IsDirectiveLine(line) {
					continue
				}
				if err := shell.Dispatch(line, &rec); err != nil {
					a.logger.Warn("refused directive", zap.String("line", line), zap.Error(err))
					fmt.Fprintf(a.stderr, "atshell: refused directive: %v\n", err)
				}
			}
			return shell.WriteCalls(a.stdout, rec.Calls)
		},
	}
}

func (a *app) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit line",
		Short: "Handle a prompt line the user accepted (used by the shell plugin)",
		Long: `submit decides whether an accepted prompt line is a request for the agent.
If it is, the agent runs on it and the exit status is 0, or 1 when the agent
could not start. Otherwise nothing runs and the exit status is 3: the shell
should execute the line itself.`,
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			st := shell.NewState(a.cfg.Shell, nil,
				shell.WithLogger(a.logger),
				shell.WithInvoker(a.hookInvoker(store, true)))
			sub := st.Submit(cmd.Context(), args[0])
			switch {
			case !sub.Intercepted:
				return statusPassThrough
			case sub.Err != nil:
				return exitStatus(1)
			}
			return nil
		},
	}
}

func (a *app) unmatchedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatched name [arg...]",
		Short: "Handle a command the shell could not find (used by the shell plugin)",
		Long: `unmatched is the command-not-found path. A name starting with the trigger
prefix becomes a request together with its arguments; anything else is reported
as not found with status 127.`,
		Args:   cobra.MinimumNArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			st := shell.NewState(a.cfg.Shell, nil,
				shell.WithLogger(a.logger),
				shell.WithStderr(a.stderr),
				shell.WithInvoker(a.hookInvoker(store, false)))
			if code := st.HandleUnmatched(cmd.Context(), args[0], args[1:]); code != 0 {
				return exitStatus(code)
			}
			return nil
		},
	}
}

// hookInvoker runs the agent for a plugin hook. From the accept-line hook the
// cursor still sits on the prompt, so narration starts on a fresh line.
func (a *app) hookInvoker(store *session.Store, newline bool) shell.Invoker {
	return func(ctx context.Context, payload string) error {
		if newline {
			fmt.Fprintln(a.stderr)
		}
		err := a.ask(ctx, store, payload)
		if err != nil {
			fmt.Fprintf(a.stderr, "atshell: %v\n", err)
		}
		return err
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			for _, src := range a.cfg.Sources {
				fmt.Fprintf(a.stdout, "# from %s\n", src)
			}
			_, err = fmt.Fprint(a.stdout, out)
			return err
		},
	})
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	var toolset string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalogue over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.cfg.GetToolset(toolset)
			if err != nil {
				return err
			}
			registry := tools.NewToolRegistry(a.cfg, tools.WithRegistryLogger(a.logger))
			active, err := registry.GetActiveTools(ts)
			if err != nil {
				return err
			}
			exec := tools.NewExecutor(active, time.Duration(a.cfg.Agent.TimeoutSec)*time.Second, a.logger)
			a.logger.Info("serving mcp", zap.Strings("tools", toolNames(active)))
			return mcp.Serve(cmd.Context(), mcp.NewServer(active, exec, version, a.logger))
		},
	}
	cmd.Flags().StringVarP(&toolset, "toolset", "t", "default", "toolset to expose")
	return cmd
}

func toolNames(ts []tools.Tool) []string {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	return names
}
