// Package api assembles the HTTP surface of the streamable MCP transport.
package api

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/tabula/internal/auth"
	"github.com/hazyhaar/tabula/pkg/kit"
)

// MCPPath is where the streamable HTTP transport is mounted.
const MCPPath = "/mcp"

// NewMCPHandler serves srv over the streamable HTTP transport. Tool calls
// see transport "http" and the user id set by the auth middleware.
func NewMCPHandler(srv *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(srv,
		server.WithEndpointPath(MCPPath),
		server.WithHTTPContextFunc(func(ctx context.Context, _ *http.Request) context.Context {
			return kit.WithTransport(ctx, "http")
		}),
	)
}

// NewHandler mounts mcpHandler on MCPPath behind authentication and rate
// limiting, next to an unauthenticated health probe. rl may be nil.
func NewHandler(mcpHandler http.Handler, a *auth.Auth, rl *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MCPPath, a.Middleware(RateLimitMiddleware(rl, mcpHandler)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return RequestLog(SecurityHeaders(mux))
}
