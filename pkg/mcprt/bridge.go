package mcprt

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/tabula/pkg/kit"
)

// Adapter turns a tool endpoint into an MCP handler. The endpoint receives
// the raw argument map.
type Adapter func(action string, ep kit.Endpoint) server.ToolHandlerFunc

// Bridge registers every saved query of reg as a tool of srv.
func Bridge(srv *server.MCPServer, reg *Registry, adapt Adapter) {
	for _, sq := range reg.ListTools() {
		registerSavedQuery(srv, reg, sq, adapt)
	}
}

func registerSavedQuery(srv *server.MCPServer, reg *Registry, sq *SavedQuery, adapt Adapter) {
	desc := sq.Description
	if desc == "" {
		desc = "Saved read-only query: " + sq.SQL
	}
	tool := mcp.NewToolWithRawSchema(sq.Name, desc, InputSchema(sq))

	name := sq.Name
	srv.AddTool(tool, adapt(name, func(ctx context.Context, request any) (any, error) {
		params, _ := request.(map[string]any)
		return reg.ExecuteTool(ctx, name, params)
	}))
}
