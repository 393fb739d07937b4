package protocol

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/go-cmp/cmp"
	"github.com/m4xw311/atshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		line string
		want Directive
	}{
		{"ADD cd /tmp", Directive{"cd", []string{"/tmp"}}},
		{"  ADD cd '/path with spaces'  ", Directive{"cd", []string{"/path with spaces"}}},
		{`ADD cd "/a \"quoted\" dir"`, Directive{"cd", []string{`/a "quoted" dir`}}},
		{`ADD cd my\ dir`, Directive{"cd", []string{"my dir"}}},
		{"ADD cd ~/src", Directive{"cd", []string{filepath.Join(home, "src")}}},
		{"ADD cd", Directive{"cd", []string{}}},
		{"ADD popd", Directive{"popd", []string{}}},
		{"ADD export FOO=bar BAZ", Directive{"export", []string{"FOO=bar", "BAZ"}}},
		{`ADD export PS1='$ '`, Directive{"export", []string{"PS1=$ "}}},
		{"ADD unset FOO", Directive{"unset", []string{"FOO"}}},
		{"ADD alias 'll=ls -la'", Directive{"alias", []string{"ll=ls -la"}}},
		{"ADD unalias ll", Directive{"unalias", []string{"ll"}}},
		{"ADD source ./env.sh", Directive{"source", []string{"./env.sh"}}},
		{"ADD cd /tmp # comment", Directive{"cd", []string{"/tmp"}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	lines := []string{
		"ADD",
		"ADD rm -rf /",
		"ADD cd $HOME",
		"ADD cd \"$HOME\"",
		"ADD cd $(pwd)",
		"ADD cd `pwd`",
		"ADD cd /tmp; rm -rf /",
		"ADD cd /tmp && ls",
		"ADD cd /tmp | cat",
		"ADD cd /tmp > out",
		"ADD cd /tmp &",
		"ADD cd /a /b",
		"ADD cd /tmp/*",
		"ADD cd {a,b}",
		"ADD cd $'\\n'",
		"ADD export 1BAD=x",
		"ADD export",
		"ADD alias ll",
		"ADD cd 'unterminated",
		"ADD cd /tmp\x07",
		"cd /tmp",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrProtocolViolation), "got %v", err)
		})
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	ds := []Directive{
		{"cd", []string{"/tmp"}},
		{"cd", []string{"/path with spaces/it's"}},
		{"cd", []string{`/weird/$HOME/"x"/back\slash`}},
		{"export", []string{"GREETING=hello world"}},
		{"alias", []string{"gs=git status"}},
		{"source", []string{"/etc/profile.d/x.sh", "--flag"}},
		{"popd", nil},
	}
	for _, d := range ds {
		line := d.String()
		assert.True(t, strings.HasPrefix(line, "ADD "+d.Verb), line)
		got, err := Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, d.Verb, got.Verb)
		assert.Equal(t, len(d.Args), len(got.Args), line)
		for i := range d.Args {
			assert.Equal(t, d.Args[i], got.Args[i], line)
		}
	}

	assert.Equal(t, "ADD cd /tmp", Directive{"cd", []string{"/tmp"}}.String())
	assert.Equal(t, "ADD export 'FOO=a b'", Directive{"export", []string{"FOO=a b"}}.String())
}

func TestSplit(t *testing.T) {
	text := strings.Join([]string{
		"Moved you to the project.",
		"ADD cd /srv/app",
		"  ADD export ENV=prod",
		"ADD rm -rf /",
		"ADDITIONAL notes stay narration",
		"Done.",
	}, "\n")

	ds, narration, violations := Split(text)
	require.Len(t, ds, 2)
	assert.Equal(t, "ADD cd /srv/app", ds[0].String())
	assert.Equal(t, "ADD export 'ENV=prod'", ds[1].String())
	assert.Equal(t, "Moved you to the project.\nADDITIONAL notes stay narration\nDone.", narration)
	require.Len(t, violations, 1)
	assert.True(t, HasVerb(ds, "cd"))
	assert.False(t, HasVerb(ds, "alias"))
}

func TestEmitterChannelPurity(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := NewEmitter(&stdout, &stderr)

	e.Narrate("thinking")
	e.Narratef("[%d/%d] → %s()", 1, 20, "run_cmd")
	d, err := Cd("/tmp/x y")
	require.NoError(t, err)
	require.NoError(t, e.Emit(d))
	err = e.Emit(Directive{Verb: "rm", Args: []string{"-rf"}})
	assert.True(t, errors.Is(err, errors.ErrProtocolViolation))

	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		_, err := Parse(line)
		assert.NoError(t, err, "stdout line %q", line)
	}
	assert.Equal(t, "ADD cd '/tmp/x y'\n", stdout.String())
	assert.Equal(t, "thinking\n[1/20] → run_cmd()\n", stderr.String())
	assert.Len(t, e.Emitted(), 1)
}

func TestNarrateGuardsDirectiveLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := NewEmitter(&stdout, &stderr)

	e.Narrate("ran it:\nADD cd /x\n  ADD export A=1\nADDITIONAL output\n")
	e.Narrate("\x1b[2mADD alias ll='ls -l'\x1b[0m")

	assert.Empty(t, stdout.String())
	assert.Equal(t, "ran it:\n"+
		NarrationGuard+"ADD cd /x\n"+
		NarrationGuard+"  ADD export A=1\n"+
		"ADDITIONAL output\n"+
		NarrationGuard+"\x1b[2mADD alias ll='ls -l'\x1b[0m\n", stderr.String())
	for _, line := range strings.Split(stderr.String(), "\n") {
		assert.False(t, IsDirectiveLine(ansi.Strip(line)), line)
	}
}
