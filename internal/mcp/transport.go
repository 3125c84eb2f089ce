package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPOptions configures the HTTP transport behavior.
type HTTPOptions struct {
	// Stateless disables session management. The document tools never send
	// server-to-client requests, so stateless mode is safe behind a load balancer.
	Stateless bool
}

// NewMux serves the MCP Streamable HTTP transport at /mcp, a health check at
// /health and a landing page at /.
func NewMux(server *Server, opts *HTTPOptions) *http.ServeMux {
	if opts == nil {
		opts = &HTTPOptions{}
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: opts.Stateless}))
	mux.HandleFunc("/health", NewHealthHandler(server.indexer))
	mux.HandleFunc("/", NewLandingHandler())
	return mux
}
