// Package protocol defines the directive lines atshell writes on stdout for
// the invoking shell to replay, and keeps them apart from human narration.
//
// A directive line is
//
//	ADD <verb> <arg>...
//
// where verb is one of cd, pushd, popd, export, unset, alias, unalias or
// source, and every arg is a single shell word with no expansions. Lines are
// always written in canonical form: each arg quoted so that the shell reads
// it back as exactly the parsed value. Nothing else is ever written to the
// directive channel.
package protocol

import (
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m4xw311/atshell/errors"
	"mvdan.cc/sh/v3/syntax"
)

// Prefix starts every directive line.
const Prefix = "ADD"

// Verbs lists the directive verbs the shell-side dispatcher accepts.
var Verbs = []string{"cd", "pushd", "popd", "export", "unset", "alias", "unalias", "source"}

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	aliasRe = regexp.MustCompile(`^[A-Za-z0-9_.:+@%,-]+$`)
)

type Directive struct {
	Verb string
	Args []string
}

// New builds a directive and checks it against the grammar.
func New(verb string, args ...string) (Directive, error) {
	d := Directive{Verb: verb, Args: args}
	if err := d.Validate(); err != nil {
		return Directive{}, err
	}
	return d, nil
}

// Cd is the directive that moves the shell to dir.
func Cd(dir string) (Directive, error) {
	return New("cd", dir)
}

// String renders the canonical line, without a trailing newline.
func (d Directive) String() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteByte(' ')
	b.WriteString(d.Verb)
	for _, a := range d.Args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

// Validate checks the verb, its arity and the shape of its arguments.
func (d Directive) Validate() error {
	for _, a := range d.Args {
		if hasControl(a) {
			return violation("argument %q contains control characters", a)
		}
	}

	n := len(d.Args)
	switch d.Verb {
	case "cd", "pushd", "popd":
		if n > 1 {
			return violation("%s takes at most one argument, got %d", d.Verb, n)
		}
	case "export":
		if n == 0 {
			return violation("export needs at least one NAME or NAME=value")
		}
		for _, a := range d.Args {
			name, _, _ := strings.Cut(a, "=")
			if !identRe.MatchString(name) {
				return violation("export: invalid variable name %q", name)
			}
		}
	case "unset":
		if n == 0 {
			return violation("unset needs at least one name")
		}
		for _, a := range d.Args {
			if !identRe.MatchString(a) {
				return violation("unset: invalid variable name %q", a)
			}
		}
	case "alias":
		if n == 0 {
			return violation("alias needs at least one name=value")
		}
		for _, a := range d.Args {
			name, _, ok := strings.Cut(a, "=")
			if !ok || !aliasRe.MatchString(name) {
				return violation("alias: expected name=value, got %q", a)
			}
		}
	case "unalias":
		if n == 0 {
			return violation("unalias needs at least one name")
		}
		for _, a := range d.Args {
			if !aliasRe.MatchString(a) {
				return violation("unalias: invalid alias name %q", a)
			}
		}
	case "source":
		if n == 0 {
			return violation("source needs a file")
		}
	default:
		return violation("unknown directive verb %q", d.Verb)
	}
	return nil
}

// IsDirectiveLine reports whether line is meant as a directive, valid or not.
func IsDirectiveLine(line string) bool {
	t := strings.TrimSpace(line)
	return t == Prefix || strings.HasPrefix(t, Prefix+" ") || strings.HasPrefix(t, Prefix+"\t")
}

// Parse reads one directive line. Quoting follows the shell: single quotes,
// double quotes and backslash escapes are honoured, while any expansion
// ($var, $(cmd), backticks, globs, braces) is rejected.
func Parse(line string) (Directive, error) {
	t := strings.TrimSpace(line)
	if !IsDirectiveLine(t) {
		return Directive{}, violation("not a directive line: %q", line)
	}
	rest := strings.TrimSpace(t[len(Prefix):])
	if rest == "" {
		return Directive{}, violation("directive without verb")
	}
	if hasControl(strings.ReplaceAll(rest, "\t", " ")) {
		return Directive{}, violation("directive contains control characters")
	}

	// Parsed as arguments of the no-op command so that NAME=value words stay
	// plain words instead of becoming assignments.
	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(": "+rest), "")
	if err != nil {
		return Directive{}, violation("unparsable directive: %v", err)
	}
	if len(f.Stmts) != 1 {
		return Directive{}, violation("directive must be a single command")
	}
	st := f.Stmts[0]
	if st.Negated || st.Background || st.Coprocess || len(st.Redirs) > 0 {
		return Directive{}, violation("directive must not use operators or redirections")
	}
	call, ok := st.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 || len(call.Args) < 2 {
		return Directive{}, violation("directive must be a plain command")
	}

	words := make([]string, 0, len(call.Args)-1)
	for _, w := range call.Args[1:] {
		s, err := literal(w)
		if err != nil {
			return Directive{}, err
		}
		words = append(words, s)
	}
	return New(words[0], words[1:]...)
}

func literal(w *syntax.Word) (string, error) {
	var b strings.Builder
	for i, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			if strings.ContainsAny(p.Value, "*?[]{}") {
				return "", violation("unquoted pattern characters in %q", p.Value)
			}
			v := unescape(p.Value, false)
			if i == 0 && (v == "~" || strings.HasPrefix(v, "~/")) {
				if home, err := os.UserHomeDir(); err == nil {
					v = home + v[1:]
				}
			}
			b.WriteString(v)
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", violation("$'...' strings are not allowed")
			}
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			if p.Dollar {
				return "", violation(`$"..." strings are not allowed`)
			}
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", violation("expansions are not allowed in directives")
				}
				b.WriteString(unescape(lit.Value, true))
			}
		default:
			return "", violation("expansions are not allowed in directives")
		}
	}
	return b.String(), nil
}

// unescape drops shell backslash escapes. Inside double quotes only \$ \`
// \" \\ and \newline are escapes; elsewhere any character can be escaped.
func unescape(s string, inDouble bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if !inDouble || strings.IndexByte("$`\"\\\n", next) >= 0 {
				if next != '\n' {
					b.WriteByte(next)
				}
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		// Unreachable for validated args, which hold no control bytes.
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}

// hasControl reports runes that would force $'...' quoting.
func hasControl(s string) bool {
	for _, r := range s {
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}

func violation(format string, a ...any) error {
	return errors.Mark(errors.New(format, a...), errors.ErrProtocolViolation)
}
