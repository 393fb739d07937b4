package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoInteractiveChannel is returned by a Prompter that has no terminal.
var ErrNoInteractiveChannel = newError(KindNoInteractiveChannel, "no interactive terminal is available")

// Prompter asks the human a question and returns the typed answer.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// TTYPrompter talks to the controlling terminal directly, because stdin and
// stdout of the agent are owned by the invoking shell.
type TTYPrompter struct {
	path string
}

func NewTTYPrompter() *TTYPrompter {
	return &TTYPrompter{path: "/dev/tty"}
}

func (p *TTYPrompter) Ask(ctx context.Context, question string) (string, error) {
	tty, err := os.OpenFile(p.path, os.O_RDWR, 0)
	if err != nil {
		return "", ErrNoInteractiveChannel
	}
	if !term.IsTerminal(int(tty.Fd())) {
		tty.Close()
		return "", ErrNoInteractiveChannel
	}

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		fmt.Fprintf(tty, "%s ", strings.TrimRight(question, " "))
		line, err := bufio.NewReader(tty).ReadString('\n')
		ch <- answer{strings.TrimRight(line, "\r\n"), err}
	}()

	select {
	case a := <-ch:
		tty.Close()
		if a.err != nil && a.text == "" {
			return "", newError(KindIOFailure, "could not read answer: %v", a.err)
		}
		return a.text, nil
	case <-ctx.Done():
		// Closing the terminal unblocks the pending read.
		tty.Close()
		return "", ctx.Err()
	}
}

// AskUserTool lets the model ask the human a clarifying question.
type AskUserTool struct {
	prompter Prompter
}

func (t *AskUserTool) Name() string { return "ask_user" }
func (t *AskUserTool) Description() string {
	return "Asks the user a question on their terminal and returns the answer. Use only when the request is ambiguous."
}

func (t *AskUserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string", "description": "Question to show the user."},
		},
		"required": []string{"question"},
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	question, ok := stringArg(args, "question", "prompt")
	if !ok || strings.TrimSpace(question) == "" {
		return "", newError(KindInvalidArguments, "missing or invalid 'question' argument")
	}
	return t.prompter.Ask(ctx, question)
}

// StaticPrompter answers from a fixed list; with no answers left it behaves
// like a missing terminal. It backs non-interactive runs and tests.
type StaticPrompter struct {
	Answers []string
	Asked   []string
}

func (p *StaticPrompter) Ask(_ context.Context, question string) (string, error) {
	p.Asked = append(p.Asked, question)
	if len(p.Answers) == 0 {
		return "", ErrNoInteractiveChannel
	}
	a := p.Answers[0]
	p.Answers = p.Answers[1:]
	return a, nil
}
