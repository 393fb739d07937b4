package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, dir string) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	registry := tools.NewToolRegistry(cfg, tools.WithWorkDir(dir), tools.WithPrompter(&tools.StaticPrompter{}))
	exec := tools.NewExecutor(registry.All(), 5*time.Second, nil)
	server := NewServer(registry.All(), exec, "test", nil)

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestServerListsCatalogue(t *testing.T) {
	cs := connect(t, t.TempDir())

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"write_file", "read_file", "run_cmd", "ask_user"}, names)
}

func TestServerCallsTools(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644))
	cs := connect(t, dir)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "read_file",
		Arguments: map[string]any{"path": "hello.txt"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi there", res.Content[0].(*mcpsdk.TextContent).Text)

	res, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "read_file",
		Arguments: map[string]any{"path": "missing.txt"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].(*mcpsdk.TextContent).Text, "not_found")
}
