package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m4xw311/atshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "demo")
	require.NoError(t, err)
	return s
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"default", "work-1", "a.b", "tty_3"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", ".hidden", "..", "a/b", `a\b`, "nul\x00"} {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, errors.ErrInvocation), name)
	}
}

func TestAppendLoadOrder(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.Append(Message{Role: RoleUser, Content: "hello"}))
	require.NoError(t, s.Append(
		Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "run_cmd", Args: map[string]any{"cmd": "ls"}}}},
		Message{Role: RoleTool, ToolCallID: "1", Content: "a.txt\nb.txt"},
		Message{Role: RoleAssistant, Content: "two files\tfound"},
	))

	got, err := s.Load()
	require.NoError(t, err)

	want := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: `Tool: run_cmd({"cmd":"ls"})`},
		{Role: RoleAssistant, Content: "two files\tfound"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(s.ChatPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, []string{
		`user	"hello"`,
		`tool	"run_cmd({\"cmd\":\"ls\"})"`,
		`assistant	"two files\tfound"`,
	}, lines)
	assert.NotContains(t, string(raw), "b.txt", "tool output must not be persisted")
}

func TestResetEmptiesBothLogs(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.Append(Message{Role: RoleUser, Content: "hi"}))
	require.NoError(t, s.AppendNL("list files"))

	require.NoError(t, s.Reset())

	msgs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, msgs)

	nl, err := s.LoadNL()
	require.NoError(t, err)
	assert.Empty(t, nl)

	_, err = os.Stat(s.Dir())
	assert.NoError(t, err, "reset keeps the session directory")
}

func TestAppendNLFlattensNewlines(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.AppendNL("first"))
	require.NoError(t, s.AppendNL("multi\nline\r\nentry\n"))
	require.NoError(t, s.AppendNL("   "))
	require.NoError(t, s.AppendNL("third"))

	nl, err := s.LoadNL()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "multi line entry", "third"}, nl)
}

func TestLoadCompactsLegacyJSON(t *testing.T) {
	s := openTemp(t)

	legacy := strings.Join([]string{
		`{"role": "user", "content": "hi"}`,
		`{"role": "assistant", "content": null, "tool_calls": [{"id": "1", "type": "function", "function": {"name": "list_dir", "arguments": "{\"path\": \"./\"}"}}]}`,
		`{"role": "tool", "tool_call_id": "1", "name": "list_dir", "content": ".\nREADME.md"}`,
		`{"role": "assistant", "content": "done"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(s.ChatPath(), []byte(legacy), 0o600))

	msgs, err := s.Load()
	require.NoError(t, err)
	want := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: `Tool: list_dir({"path": "./"})`},
		{Role: RoleAssistant, Content: "done"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	rewritten, err := os.ReadFile(s.ChatPath())
	require.NoError(t, err)
	assert.Equal(t, []string{
		`user	"hi"`,
		`tool	"list_dir({\"path\": \"./\"})"`,
		`assistant	"done"`,
	}, strings.Split(strings.TrimSpace(string(rewritten)), "\n"))

	// A second load sees canonical lines and leaves the file alone.
	info, err := os.Stat(s.ChatPath())
	require.NoError(t, err)
	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
	info2, err := os.Stat(s.ChatPath())
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

func TestLoadKeepsUnparseableLines(t *testing.T) {
	s := openTemp(t)
	body := "{not json\nuser\t\"ok\"\nstray line\n"
	require.NoError(t, os.WriteFile(s.ChatPath(), []byte(body), 0o600))

	msgs, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "ok"}}, msgs)

	raw, err := os.ReadFile(s.ChatPath())
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
}

func TestConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s, err := Open(dir, "shared")
			if err != nil {
				t.Error(err)
				return
			}
			for i := 0; i < perWriter; i++ {
				if err := s.Append(Message{Role: RoleUser, Content: fmt.Sprintf("w%d-%d\nwith newline", w, i)}); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	s, err := Open(dir, "shared")
	require.NoError(t, err)
	msgs, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, msgs, writers*perWriter)

	// Each writer's entries keep their relative order.
	next := make(map[int]int)
	for _, m := range msgs {
		var w, i int
		_, err := fmt.Sscanf(m.Content, "w%d-%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, next[w], i)
		next[w] = i + 1
	}
}

func TestToolCallSummary(t *testing.T) {
	assert.Equal(t, "ask_user", ToolCall{Name: "ask_user"}.Summary())
	assert.Equal(t, `read_file({"path":"/etc/hosts"})`,
		ToolCall{Name: "read_file", Args: map[string]any{"path": "/etc/hosts"}}.Summary())
}
