package kit

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/tabula/internal/sanitize"
)

// MCPDecodeResult carries the request decoded from tool arguments.
type MCPDecodeResult struct {
	Request any
}

// MCPDecoder turns raw tool arguments into an endpoint request. A decode
// error is reported to the caller as a tool error.
type MCPDecoder func(req mcp.CallToolRequest) (*MCPDecodeResult, error)

// MCPHandler adapts an Endpoint to an mcp-go tool handler. Failures become
// tool error results carrying sanitized text; they are never protocol errors.
func MCPHandler(name string, endpoint Endpoint, decode MCPDecoder) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if GetRequestID(ctx) == "" {
			ctx = NewRequestContext(ctx)
		}
		decoded, err := decode(req)
		if err != nil {
			slog.Warn("tool arguments rejected", "tool", name, "request_id", GetRequestID(ctx), "error", err)
			return mcp.NewToolResultError(sanitize.Text(err.Error())), nil
		}
		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			slog.Warn("tool failed", "tool", name, "request_id", GetRequestID(ctx), "error", err)
			return mcp.NewToolResultError(sanitize.Text(err.Error())), nil
		}
		res, err := mcp.NewToolResultJSON(resp)
		if err != nil {
			slog.Error("encoding tool result", "tool", name, "error", err)
			return mcp.NewToolResultError("encoding result: " + sanitize.Text(err.Error())), nil
		}
		return res, nil
	}
}

// RegisterMCPTool adds tool to srv, served by endpoint.
func RegisterMCPTool(srv *server.MCPServer, tool mcp.Tool, endpoint Endpoint, decode MCPDecoder) {
	srv.AddTool(tool, MCPHandler(tool.Name, endpoint, decode))
}
