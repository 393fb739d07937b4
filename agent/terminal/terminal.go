package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/atshell/agent"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/protocol"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
	"golang.org/x/term"
)

const (
	argsPreview   = 80
	outputPreview = 10
)

// Terminal renders agent runs for the invoking shell: directives on one
// writer, narration on the other.
type Terminal struct {
	agent   *agent.Agent
	emitter *protocol.Emitter

	renderer *glamour.TermRenderer
	step     lipgloss.Style
	ok       lipgloss.Style
	fail     lipgloss.Style
	warn     lipgloss.Style
	faint    lipgloss.Style
}

type Option func(*settings)

type settings struct {
	styled *bool
	width  int
}

// WithStyle forces styled narration on or off instead of detecting a
// terminal on the narration writer.
func WithStyle(styled bool) Option {
	return func(s *settings) { s.styled = &styled }
}

// New creates a Terminal writing directives to stdout and narration to stderr.
func New(a *agent.Agent, stdout, stderr io.Writer, opts ...Option) *Terminal {
	s := settings{width: 100}
	for _, opt := range opts {
		opt(&s)
	}
	styled := false
	if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		styled = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			s.width = w - 2
		}
	}
	if s.styled != nil {
		styled = *s.styled
	}

	t := &Terminal{
		agent:   a,
		emitter: protocol.NewEmitter(stdout, stderr),
	}

	r := lipgloss.NewRenderer(stderr)
	plain := r.NewStyle()
	t.step, t.ok, t.fail, t.warn, t.faint = plain, plain, plain, plain, plain
	if styled {
		t.step = r.NewStyle().Foreground(lipgloss.Color("6"))
		t.ok = r.NewStyle().Foreground(lipgloss.Color("2"))
		t.fail = r.NewStyle().Foreground(lipgloss.Color("1"))
		t.warn = r.NewStyle().Foreground(lipgloss.Color("3"))
		t.faint = r.NewStyle().Faint(true)
		if a.Config.UI.RenderMarkdown {
			if gr, err := glamour.NewTermRenderer(
				glamour.WithStandardStyle(styles.DarkStyle),
				glamour.WithWordWrap(s.width),
			); err == nil {
				t.renderer = gr
			}
		}
	}
	return t
}

// Run processes one payload. Narration is written as the run progresses;
// directives are written once it has finished.
func (t *Terminal) Run(ctx context.Context, payload string) (*agent.Result, error) {
	res, err := t.agent.ProcessUserInput(ctx, payload, t.callbacks())
	if err != nil {
		return nil, err
	}

	if res.State == agent.StateFailed {
		t.emitter.Narrate(t.fail.Render("✗ " + describe(res.Err)))
	}
	t.markdown(res.Narration)
	if res.Notice != "" {
		t.emitter.Narrate(t.warn.Render("⚠ " + res.Notice))
	}

	for _, d := range res.Directives {
		if err := t.emitter.Emit(d); err != nil {
			t.emitter.Narrate(t.warn.Render(fmt.Sprintf("⚠ dropped directive: %v", err)))
		}
	}

	if t.agent.Config.UI.ShowStepSummary && t.agent.Verbosity != agent.ToolVerbosityNone && res.ToolCalls > 0 {
		t.emitter.Narrate(t.faint.Render(fmt.Sprintf("(%d steps, %d tool calls)", res.Steps, res.ToolCalls)))
	}
	return res, nil
}

func (t *Terminal) callbacks() agent.ProcessCallbacks {
	return agent.ProcessCallbacks{
		OnAssistantMessage: t.markdown,
		OnToolCall: func(step, maxSteps int, call session.ToolCall) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				t.emitter.Narrate(t.step.Render(fmt.Sprintf("[%d/%d] → %s", step, maxSteps, call.Summary())))
			case agent.ToolVerbosityInfo:
				t.emitter.Narrate(t.step.Render(fmt.Sprintf("[%d/%d] → %s", step, maxSteps, truncate(call.Summary(), argsPreview))))
			}
		},
		OnToolResult: func(call session.ToolCall, result tools.Result) {
			if t.agent.Verbosity == agent.ToolVerbosityNone {
				return
			}
			if result.OK {
				t.emitter.Narrate(t.ok.Render("✓ done"))
			} else {
				t.emitter.Narrate(t.fail.Render(fmt.Sprintf("✗ %s: %s", result.Err.Kind, result.Err.Message)))
			}
			if t.agent.Verbosity == agent.ToolVerbosityAll && strings.TrimSpace(result.Output) != "" {
				t.emitter.Narrate(t.faint.Render(gutter(preview(result.Output, outputPreview))))
			}
		},
		ShouldExecuteTool: func(ctx context.Context, call session.ToolCall) bool {
			if t.agent.Mode == agent.ModePrompt {
				return t.agent.ConfirmTool(ctx, call)
			}
			return true
		},
		OnWarning: func(warning string) {
			t.emitter.Narrate(t.warn.Render("⚠ " + warning))
		},
	}
}

// markdown narrates text, rendered when a renderer is available.
func (t *Terminal) markdown(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if t.renderer != nil {
		if out, err := t.renderer.Render(text); err == nil {
			t.emitter.Narrate(strings.TrimRight(out, "\n"))
			return
		}
	}
	t.emitter.Narrate(text)
}

func describe(err error) string {
	switch {
	case err == nil:
		return "failed"
	case errors.Is(err, errors.ErrProvider):
		return "provider error: " + err.Error()
	case errors.Is(err, errors.ErrStorage):
		return "history error: " + err.Error()
	}
	return err.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// gutter marks every line of tool output so it reads as quoted.
func gutter(s string) string {
	return protocol.NarrationGuard + strings.ReplaceAll(s, "\n", "\n"+protocol.NarrationGuard)
}

func preview(out string, lines int) string {
	ls := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(ls) <= lines {
		return strings.Join(ls, "\n")
	}
	return strings.Join(ls[:lines], "\n") + fmt.Sprintf("\n… %d more lines", len(ls)-lines)
}
