// Package terminal renders agent runs for the shell that invoked atshell.
//
// The invoking shell reads stdout and replays each line as a directive, so
// stdout carries nothing but validated ADD lines, written after the run has
// finished. Everything meant for the user goes to stderr: the model's text,
// tool progress, warnings and failures.
//
// # Usage
//
//	a, err := agent.New(cfg, store, "default", mode, client, verbosity)
//	if err != nil {
//	    // handle error
//	}
//	term := terminal.New(a, os.Stdout, os.Stderr)
//	res, err := term.Run(ctx, payload)
//
// # Verbosity Levels
//
//   - None: only the answer is shown
//   - Info: one line per tool call with abbreviated arguments, then its outcome
//   - All: full arguments and the first lines of each tool's output
//
// When stderr is a terminal, progress lines are coloured with lipgloss and
// the answer is rendered as Markdown with glamour (ui.render_markdown).
package terminal
