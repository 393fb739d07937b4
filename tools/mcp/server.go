// Package mcp exposes the agent's tool catalogue as a Model Context Protocol
// server, so that other MCP clients can drive the same tools under the same
// filesystem and command policies.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/atshell/errors"
	"github.com/m4xw311/atshell/session"
	"github.com/m4xw311/atshell/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// NewServer registers every tool in ts on a fresh MCP server. Calls go
// through exec, so they get the same deadline and panic isolation as calls
// made by the agent loop.
func NewServer(ts []tools.Tool, exec *tools.Executor, version string, logger *zap.Logger) *mcpsdk.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "atshell", Version: version}, nil)
	for _, t := range ts {
		server.AddTool(&mcpsdk.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		}, handler(t.Name(), exec, logger))
	}
	return server
}

func handler(name string, exec *tools.Executor, logger *zap.Logger) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return textResult("error (invalid_arguments): arguments must be a JSON object", true), nil
			}
		}
		logger.Debug("mcp tool call", zap.String("tool", name))
		res := exec.Execute(ctx, session.ToolCall{Name: name, Args: args})
		return textResult(res.Content(), !res.OK), nil
	}
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}

// Serve runs the server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func Serve(ctx context.Context, server *mcpsdk.Server) error {
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "mcp server stopped")
	}
	return nil
}
