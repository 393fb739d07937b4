package protocol

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// NarrationGuard is put in front of narration lines that would otherwise read
// as directives.
const NarrationGuard = "│ "

// Split separates a final model answer into directives and narration. Lines
// that look like directives but fail the grammar are reported in violations
// and appear in neither output.
func Split(text string) (directives []Directive, narration string, violations []error) {
	var human []string
	for _, line := range strings.Split(text, "\n") {
		if !IsDirectiveLine(line) {
			human = append(human, strings.TrimRight(line, "\r"))
			continue
		}
		d, err := Parse(line)
		if err != nil {
			violations = append(violations, err)
			continue
		}
		directives = append(directives, d)
	}
	return directives, strings.TrimSpace(strings.Join(human, "\n")), violations
}

// HasVerb reports whether any directive uses verb.
func HasVerb(ds []Directive, verb string) bool {
	for _, d := range ds {
		if d.Verb == verb {
			return true
		}
	}
	return false
}

// Emitter owns both output channels of one invocation. Only validated
// directives reach the directive writer.
type Emitter struct {
	mu         sync.Mutex
	directives io.Writer
	narration  io.Writer
	emitted    []Directive
}

func NewEmitter(directives, narration io.Writer) *Emitter {
	return &Emitter{directives: directives, narration: narration}
}

// Emit writes d on the directive channel.
func (e *Emitter) Emit(d Directive) error {
	if err := d.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.directives, d.String()+"\n"); err != nil {
		return err
	}
	e.emitted = append(e.emitted, d)
	return nil
}

// Emitted returns the directives written so far.
func (e *Emitter) Emitted() []Directive {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Directive(nil), e.emitted...)
}

// Narrate writes text on the narration channel, adding a final newline. A line
// that is a directive once styling is stripped gets NarrationGuard in front.
func (e *Emitter) Narrate(text string) {
	if text == "" {
		return
	}
	text = guard(strings.TrimSuffix(text, "\n")) + "\n"
	e.mu.Lock()
	defer e.mu.Unlock()
	io.WriteString(e.narration, text)
}

func (e *Emitter) Narratef(format string, a ...any) {
	e.Narrate(fmt.Sprintf(format, a...))
}

func guard(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if IsDirectiveLine(ansi.Strip(line)) {
			lines[i] = NarrationGuard + line
		}
	}
	return strings.Join(lines, "\n")
}
