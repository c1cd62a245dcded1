// Package mcpserver exposes a toolbox over the Model Context Protocol so
// assistants can query and control a media server.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/mediahub/pkg/tools/toolbox"
)

// MCPServer serves tools using the official MCP Go SDK.
type MCPServer struct {
	server *mcp.Server
	logger *slog.Logger
}

// New creates a server announcing itself as name/version. A nil logger uses
// slog.Default().
func New(name, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	return &MCPServer{server: server, logger: logger}
}

// Register adds every tool of tb.
func (s *MCPServer) Register(tb *toolbox.ToolBox) {
	for _, t := range tb.Tools() {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(t))
	}
}

// ServeStdio serves on the process's stdin and stdout until ctx is
// cancelled or the client disconnects.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	return s.run(ctx, &mcp.StdioTransport{})
}

// Serve reads requests from in and writes responses to out.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func toSDKTool(t toolbox.Tool) *mcp.Tool {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// toSDKHandler wraps a tool as an SDK handler. Handler errors become error
// results, not protocol errors.
func (s *MCPServer) toSDKHandler(t toolbox.Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		result, err := t.Handler(ctx, args)
		if err != nil {
			s.logger.WarnContext(ctx, "tool call failed", "tool", t.Name, "err", err)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		s.logger.DebugContext(ctx, "tool call", "tool", t.Name, "duration", time.Since(start))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
