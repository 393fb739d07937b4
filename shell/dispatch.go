package shell

import (
	"bufio"
	"io"
	"strconv"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/protocol"
)

// Target is the shell state a directive changes.
type Target interface {
	Chdir(dir string) error
	Pushd(dir string) error
	Popd() error
	Export(assignment string) error
	Unset(name string) error
	Alias(definition string) error
	Unalias(name string) error
	Source(file string, args []string) error
}

// Dispatch replays one directive line against t. The verb table is fixed;
// nothing on the line is ever evaluated.
func Dispatch(line string, t Target) error {
	d, err := protocol.Parse(line)
	if err != nil {
		return err
	}
	return Apply(d, t)
}

// Apply replays a parsed directive.
func Apply(d protocol.Directive, t Target) error {
	if err := d.Validate(); err != nil {
		return err
	}
	arg := func() string {
		if len(d.Args) == 0 {
			return ""
		}
		return d.Args[0]
	}

	switch d.Verb {
	case "cd":
		return t.Chdir(arg())
	case "pushd":
		return t.Pushd(arg())
	case "popd":
		return t.Popd()
	case "export":
		return each(d.Args, t.Export)
	case "unset":
		return each(d.Args, t.Unset)
	case "alias":
		return each(d.Args, t.Alias)
	case "unalias":
		return each(d.Args, t.Unalias)
	case "source":
		return t.Source(d.Args[0], d.Args[1:])
	}
	return errors.Mark(errors.New("no dispatcher for verb %q", d.Verb), errors.ErrProtocolViolation)
}

func each(args []string, f func(string) error) error {
	for _, a := range args {
		if err := f(a); err != nil {
			return err
		}
	}
	return nil
}

// Call is one primitive shell action produced by a directive.
type Call struct {
	Verb string
	Args []string
}

// Words returns the verb followed by its arguments.
func (c Call) Words() []string {
	return append([]string{c.Verb}, c.Args...)
}

// Recorder is a Target that collects calls instead of performing them. The
// plugins replay its output with their fixed dispatcher.
type Recorder struct {
	Calls []Call
}

func (r *Recorder) add(verb string, args ...string) error {
	r.Calls = append(r.Calls, Call{Verb: verb, Args: args})
	return nil
}

func (r *Recorder) Chdir(dir string) error {
	if dir == "" {
		return r.add("cd")
	}
	return r.add("cd", dir)
}

func (r *Recorder) Pushd(dir string) error {
	if dir == "" {
		return r.add("pushd")
	}
	return r.add("pushd", dir)
}

func (r *Recorder) Popd() error                    { return r.add("popd") }
func (r *Recorder) Export(assignment string) error { return r.add("export", assignment) }
func (r *Recorder) Unset(name string) error        { return r.add("unset", name) }
func (r *Recorder) Alias(definition string) error  { return r.add("alias", definition) }
func (r *Recorder) Unalias(name string) error      { return r.add("unalias", name) }

func (r *Recorder) Source(file string, args []string) error {
	return r.add("source", append([]string{file}, args...)...)
}

// WriteCalls encodes calls for the plugins' dispatcher: each call is its word
// count followed by its words, every field NUL-terminated.
func WriteCalls(w io.Writer, calls []Call) error {
	bw := bufio.NewWriter(w)
	for _, c := range calls {
		words := c.Words()
		bw.WriteString(strconv.Itoa(len(words)))
		bw.WriteByte(0)
		for _, word := range words {
			bw.WriteString(word)
			bw.WriteByte(0)
		}
	}
	return bw.Flush()
}
