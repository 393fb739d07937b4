package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/atshell/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

// runAsCLI makes the test binary behave as atshell, so the plugins under test
// can call back into it.
const runAsCLI = "ATSHELL_TEST_RUN_CLI"

func TestMain(m *testing.M) {
	if os.Getenv(runAsCLI) == "1" {
		os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func quote(t *testing.T, s string) string {
	t.Helper()
	q, err := syntax.Quote(s, syntax.LangBash)
	require.NoError(t, err)
	return q
}

// bashPlugin renders the bash integration with this test binary as atshell.
func (e testEnv) bashPlugin(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	script, _, err := e.execute(t, invocation{}, "init", "bash", "--binary", exe, "--session", "e2e")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "atshell.bash")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))
	return path
}

// interactiveBash starts bash -i on a pseudo-terminal with rc as its startup
// file, types input and returns the terminal transcript.
func (e testEnv) interactiveBash(t *testing.T, rc, input string) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("needs util-linux script for a pseudo-terminal")
	}
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not installed")
	}
	script, err := exec.LookPath("script")
	if err != nil {
		t.Skip("script not installed")
	}

	dir := t.TempDir()
	rcPath := filepath.Join(dir, "bashrc")
	require.NoError(t, os.WriteFile(rcPath, []byte(rc), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, script, "-qc", quote(t, bash)+" --rcfile "+quote(t, rcPath)+" -i", "/dev/null")
	cmd.Env = append(os.Environ(),
		runAsCLI+"=1",
		"ATSHELL_CONFIG="+e.configPath,
		"ATSHELL_SESSION=",
		"INPUTRC=/dev/null",
		"TERM=xterm",
		"TMPDIR="+dir,
	)
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.ReplaceAll(string(out), "\r", "")
}

// marks groups transcript lines under the "MARK name" line before them,
// keeping only bind listings.
func marks(out string) map[string][]string {
	blocks := map[string][]string{}
	cur := ""
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, "MARK "); i >= 0 {
			cur = line[i+len("MARK "):]
			blocks[cur] = []string{}
			continue
		}
		if cur != "" && strings.HasPrefix(line, `"`) {
			blocks[cur] = append(blocks[cur], line)
		}
	}
	return blocks
}

func TestBashPluginRestoresBindings(t *testing.T) {
	env := newTestEnv(t)
	plugin := env.bashPlugin(t)

	rc := `show() { printf 'MARK %s\n' "$1"; bind -m emacs -p | grep -F -- '[A"'; bind -m emacs -X | grep -F -- '[A"'; }
show before
. ` + quote(t, plugin) + `
show installed
atshell_restore_bindings
show restored
_atshell_keymaps=(emacs atshell-no-such-keymap)
_atshell_bind '\e[A' x:_atshell_down
printf 'MARK failed-bind %d\n' $?
show rolled-back
exit
`
	blocks := marks(env.interactiveBash(t, rc, ""))

	before := blocks["before"]
	require.NotEmpty(t, before)
	assert.Contains(t, strings.Join(before, "\n"), "previous-history")
	assert.Contains(t, strings.Join(blocks["installed"], "\n"), "_atshell_up")
	assert.Equal(t, before, blocks["restored"])
	require.Contains(t, blocks, "failed-bind 1")
	assert.Equal(t, before, blocks["rolled-back"])
}

func TestBashPluginHooks(t *testing.T) {
	env := newTestEnv(t)
	plugin := env.bashPlugin(t)

	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "@hello"), []byte("#!/bin/sh\necho MARK ran-real\n"), 0o755))

	rc := `command_not_found_handle() { printf 'MARK previous %s\n' "$*"; return 42; }
PATH=` + quote(t, bin) + `:$PATH
HISTFILE=` + quote(t, filepath.Join(t.TempDir(), "history")) + `
. ` + quote(t, plugin) + `
gti status
printf 'MARK cnf %d\n' $?
@find large files
printf 'MARK prefixed %d\n' $?
PS1='$ '
`
	input := "@list files\r" +
		"@hello\r" +
		`printf "MARK history %s\n" "$(history | grep -c "@l[i]st")"` + "\r" +
		"exit\r"
	out := env.interactiveBash(t, rc, input)

	// The previous handler keeps unprefixed names.
	assert.Contains(t, out, "MARK previous gti status\n")
	assert.Contains(t, out, "MARK cnf 42\n")
	assert.Contains(t, out, "MARK prefixed 0\n")
	// A prefixed name that exists on PATH runs as a command.
	assert.Contains(t, out, "MARK ran-real\n")
	// The accepted request never reached the shell's own history.
	assert.Contains(t, out, "MARK history 0\n")
	assert.Contains(t, out, "I am a mock LLM.")

	store, err := session.Open(env.historyDir, "e2e")
	require.NoError(t, err)
	nl, err := store.LoadNL()
	require.NoError(t, err)
	// A buffer left in place would have run a second time through
	// command_not_found_handle.
	assert.Equal(t, []string{"find large files", "list files"}, nl)
}
