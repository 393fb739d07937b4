package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/llm"
	"github.com/m4xw311/atshell/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	configPath string
	historyDir string
}

// newTestEnv isolates HOME and writes a config that uses the mock provider
// and logs nowhere.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("ATSHELL_SESSION", "")
	t.Setenv("ATSHELL_CONFIG", "")

	env := testEnv{
		configPath: filepath.Join(dir, "atshell.yaml"),
		historyDir: filepath.Join(dir, "history"),
	}
	yaml := `llm: mock
agent:
  history_dir: ` + env.historyDir + `
  timeout_sec: 5
  mode: auto
ui:
  render_markdown: false
logging:
  file: ""
`
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o600))
	return env
}

type invocation struct {
	stdin  string
	client *llm.MockLLMClient
}

func (e testEnv) execute(t *testing.T, inv invocation, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(inv.stdin), &stdout, &stderr)
	if inv.client != nil {
		a.newClient = func(context.Context, *config.Config) (llm.LLMClient, error) { return inv.client, nil }
	}
	root := a.rootCmd()
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e testEnv) seedNL(t *testing.T, name string, entries ...string) {
	t.Helper()
	store, err := session.Open(e.historyDir, name)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NoError(t, store.AppendNL(entry))
	}
}

func TestRunAgent(t *testing.T) {
	env := newTestEnv(t)
	client := &llm.MockLLMClient{Replies: []session.Message{{
		Role:    session.RoleAssistant,
		Content: "Heading there.\nADD cd '/srv/my app'",
	}}}

	stdout, stderr, err := env.execute(t, invocation{client: client}, "--session", "work", "--", "go", "to", "my", "app")
	require.NoError(t, err)
	assert.Equal(t, "ADD cd '/srv/my app'\n", stdout)
	assert.Contains(t, stderr, "Heading there.")

	received := client.Received()
	require.Len(t, received, 1)
	last := received[0][len(received[0])-1]
	assert.Equal(t, session.RoleUser, last.Role)
	assert.Equal(t, "go to my app", last.Content)

	stdout, _, err = env.execute(t, invocation{}, "nl-history", "--session", "work")
	require.NoError(t, err)
	assert.Equal(t, "go to my app\n", stdout)
}

func TestRunAgentProviderFailureIsNotAnExitError(t *testing.T) {
	env := newTestEnv(t)
	client := &llm.MockLLMClient{Err: errors.New("connection refused")}

	stdout, stderr, err := env.execute(t, invocation{client: client}, "--", "hello")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "provider error")
}

func TestRunExitCodes(t *testing.T) {
	env := newTestEnv(t)
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"BadSession", []string{"--session", "../escape", "--", "hi"}, "session name"},
		{"NoRequest", []string{"--session", "ok"}, "no request given"},
		{"BadMode", []string{"--mode", "yolo", "--", "hi"}, "unknown mode"},
		{"BadConfig", []string{"--config", "/nonexistent/atshell.yaml", "--", "hi"}, "error loading config"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"--config", env.configPath}, tc.args...)
			code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout.String())
			assert.Contains(t, stderr.String(), tc.want)
		})
	}
}

func TestBuiltinReset(t *testing.T) {
	env := newTestEnv(t)
	env.seedNL(t, "default", "list files")

	_, _, err := env.execute(t, invocation{client: &llm.MockLLMClient{}}, "--", "reset")
	require.NoError(t, err)

	stdout, _, err := env.execute(t, invocation{}, "nl-history")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestResetCommand(t *testing.T) {
	env := newTestEnv(t)
	env.seedNL(t, "work", "list files", "summarize readme")

	_, stderr, err := env.execute(t, invocation{}, "reset", "--session", "work")
	require.NoError(t, err)
	assert.Contains(t, stderr, "session work reset")

	stdout, _, err := env.execute(t, invocation{}, "nl-history", "--session", "work")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestRecallCommand(t *testing.T) {
	env := newTestEnv(t)
	env.seedNL(t, "work", "summarize readme", "list files")

	testCases := []struct {
		offset string
		want   string
	}{
		{"0", "0\t\n"},
		{"1", "1\tlist files\n"},
		{"2", "2\tsummarize readme\n"},
		{"9", "2\tsummarize readme\n"},
	}
	for _, tc := range testCases {
		stdout, _, err := env.execute(t, invocation{}, "recall", "--session", "work", "--offset", tc.offset)
		require.NoError(t, err)
		assert.Equal(t, tc.want, stdout, "offset %s", tc.offset)
	}

	_, _, err := env.execute(t, invocation{}, "recall", "--offset", "-1")
	assert.True(t, errors.Is(err, errors.ErrInvocation))
}

func TestNLHistoryNull(t *testing.T) {
	env := newTestEnv(t)
	env.seedNL(t, "default", "a", "b")

	stdout, _, err := env.execute(t, invocation{}, "nl-history", "-z")
	require.NoError(t, err)
	assert.Equal(t, "a\x00b\x00", stdout)
}

func TestDispatchCheck(t *testing.T) {
	env := newTestEnv(t)
	in := "some narration\nADD cd '/srv/my app'\nADD eval rm -rf /\nADD export A=1 B=2\n"

	stdout, stderr, err := env.execute(t, invocation{stdin: in}, "dispatch-check")
	require.NoError(t, err)
	assert.Equal(t, "2\x00cd\x00/srv/my app\x002\x00export\x00A=1\x002\x00export\x00B=2\x00", stdout)
	assert.Contains(t, stderr, "refused directive")
	assert.Equal(t, 1, strings.Count(stderr, "refused directive"))

	stdout, _, err = env.execute(t, invocation{}, "dispatch-check", "ADD popd")
	require.NoError(t, err)
	assert.Equal(t, "1\x00popd\x00", stdout)
}

func TestInitCommand(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := env.execute(t, invocation{}, "init", "bash", "--binary", "/usr/local/bin/atshell", "--session", "tty1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "_atshell_bin=/usr/local/bin/atshell")
	assert.Contains(t, stdout, "${ATSHELL_SESSION:-tty1}")
	assert.Contains(t, stdout, "command_not_found_handle()")

	stdout, _, err = env.execute(t, invocation{}, "init", "zsh", "--binary", "/usr/local/bin/atshell")
	require.NoError(t, err)
	assert.Contains(t, stdout, "add-zsh-hook precmd _atshell_precmd")

	_, _, err = env.execute(t, invocation{}, "init", "fish")
	assert.True(t, errors.Is(err, errors.ErrInvocation))
}

func TestConfigShow(t *testing.T) {
	env := newTestEnv(t)
	stdout, _, err := env.execute(t, invocation{}, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# from "+env.configPath)
	assert.Contains(t, stdout, "trigger_prefix: '@'")
	assert.Contains(t, stdout, "llm: mock")
}

func TestStartupStorageFailureExitsNonZero(t *testing.T) {
	env := newTestEnv(t)
	store, err := session.Open(env.historyDir, "broken")
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(store.ChatPath(), 0o700))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", env.configPath, "--session", "broken", "--", "hi"},
		strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "conversation log")
}

func TestSubmitAndUnmatchedStatus(t *testing.T) {
	env := newTestEnv(t)
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "@hello"), []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	testCases := []struct {
		name   string
		args   []string
		code   int
		stderr string
	}{
		{"SubmitRequest", []string{"submit", "@list files"}, 0, "I am a mock LLM."},
		{"SubmitPlainCommand", []string{"submit", "ls -la"}, 3, ""},
		{"SubmitExistingCommand", []string{"submit", "@hello world"}, 3, ""},
		{"UnmatchedPrefixed", []string{"unmatched", "--", "@find", "big", "files"}, 0, "I am a mock LLM."},
		{"UnmatchedPlain", []string{"unmatched", "--", "gti", "status"}, 127, "gti: command not found"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"--config", env.configPath, "--session", "hooks"}, tc.args...)
			code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
			assert.Equal(t, tc.code, code, stderr.String())
			assert.Empty(t, stdout.String())
			if tc.stderr == "" {
				assert.Empty(t, stderr.String())
			} else {
				assert.Contains(t, stderr.String(), tc.stderr)
			}
		})
	}

	stdout, _, err := env.execute(t, invocation{}, "nl-history", "--session", "hooks")
	require.NoError(t, err)
	assert.Equal(t, "list files\nfind big files\n", stdout)
}
