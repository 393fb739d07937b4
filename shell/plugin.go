package shell

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"mvdan.cc/sh/v3/syntax"
)

//go:embed plugins/*.tmpl
var pluginFS embed.FS

var pluginTemplates = template.Must(template.New("plugins").Funcs(template.FuncMap{
	"q":       shellQuote,
	"bashkey": bashKey,
}).ParseFS(pluginFS, "plugins/*.tmpl"))

// Shells lists the shells a plugin can be generated for.
var Shells = []string{"zsh", "bash"}

// PluginParams fills a plugin template. Key sequences are raw bytes.
type PluginParams struct {
	Binary      string
	Session     string
	Prefix      string
	BackKeys    []string
	ForwardKeys []string
	AcceptKeys  []string
	Keymaps     []string
}

// NewPluginParams derives plugin parameters from the shell section of the
// configuration. History keys use caret notation, as bindkey prints them.
func NewPluginParams(binary, session string, cfg config.ShellConfig) (PluginParams, error) {
	p := PluginParams{
		Binary:     binary,
		Session:    session,
		Prefix:     cfg.TriggerPrefix,
		AcceptKeys: []string{"\r", "\n"},
	}
	var err error
	if p.BackKeys, err = decodeKeys(cfg.HistoryKeys.Back); err != nil {
		return p, err
	}
	if p.ForwardKeys, err = decodeKeys(cfg.HistoryKeys.Forward); err != nil {
		return p, err
	}
	return p, nil
}

// Plugin renders the integration script for shellName.
func Plugin(shellName string, p PluginParams) (string, error) {
	switch shellName {
	case "zsh":
		if p.Keymaps == nil {
			p.Keymaps = ZshKeymaps
		}
	case "bash":
		if p.Keymaps == nil {
			p.Keymaps = BashKeymaps
		}
	default:
		return "", errors.Mark(errors.New("unsupported shell %q (want one of %s)", shellName, strings.Join(Shells, ", ")), errors.ErrInvocation)
	}
	if p.Binary == "" || p.Session == "" || p.Prefix == "" {
		return "", errors.Mark(errors.New("plugin needs a binary, a session and a trigger prefix"), errors.ErrInvocation)
	}

	var buf bytes.Buffer
	if err := pluginTemplates.ExecuteTemplate(&buf, shellName+".tmpl", p); err != nil {
		return "", errors.Wrapf(err, "could not render %s plugin", shellName)
	}
	return buf.String(), nil
}

// DecodeKey turns caret notation ("^[[A") and \e escapes into raw bytes.
func DecodeKey(seq string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		switch {
		case c == '^' && i+1 < len(seq):
			i++
			n := seq[i]
			switch {
			case n == '?':
				b.WriteByte(0x7f)
			case n >= '@' && n <= '_':
				b.WriteByte(n - '@')
			case n >= 'a' && n <= 'z':
				b.WriteByte(n - 'a' + 1)
			default:
				return "", errors.Mark(errors.New("bad control character in key %q", seq), errors.ErrBindingInstall)
			}
		case c == '\\' && i+1 < len(seq) && (seq[i+1] == 'e' || seq[i+1] == 'E'):
			i++
			b.WriteByte(0x1b)
		default:
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "", errors.Mark(errors.New("empty key sequence"), errors.ErrBindingInstall)
	}
	return b.String(), nil
}

func decodeKeys(seqs []string) ([]string, error) {
	out := make([]string, 0, len(seqs))
	for _, s := range seqs {
		k, err := DecodeKey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func shellQuote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangBash)
}

// bashKey writes a raw sequence the way readline's bind -p prints it.
func bashKey(seq string) string {
	var b strings.Builder
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		switch {
		case c == 0x1b:
			b.WriteString(`\e`)
		case c == 0x7f:
			b.WriteString(`\C-?`)
		case c < 0x20:
			b.WriteString(`\C-`)
			b.WriteByte(c + 0x60)
		case c == '\\' || c == '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
