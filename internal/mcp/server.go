package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/storage"
)

// Indexer is the coordinator surface exposed as tools.
type Indexer interface {
	GetDocument(ctx context.Context, documentID, owner string) (*storage.Document, error)
	ListDocuments(ctx context.Context, opts storage.ListOptions) ([]*storage.Document, int, error)
	RequestIndex(ctx context.Context, documentID, owner string) (*indexer.IndexAccepted, error)
	GetTask(ctx context.Context, documentID, owner string) (*storage.IndexingTask, error)
	ListChunks(ctx context.Context, documentID, owner string, offset, limit int) ([]*storage.Chunk, int, error)
	Health(ctx context.Context) error
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	indexer Indexer
}

// Config holds server dependencies. Owner scopes every tool to one owner's
// documents; empty means all documents are visible.
type Config struct {
	Indexer Indexer
	Owner   string
	Version string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "docindex",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List uploaded documents with their indexing status. Supports text search, a status filter and pagination.",
	}, makeListDocumentsHandler(cfg.Indexer, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Get a document's details and the state of its current indexing task.",
	}, makeGetDocumentHandler(cfg.Indexer, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_document",
		Description: "Start (or restart) indexing of a document. Fails softly if the document is already being indexed.",
	}, makeIndexDocumentHandler(cfg.Indexer, cfg.Owner))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_chunks",
		Description: "List chunk previews of an indexed document in order.",
	}, makeListChunksHandler(cfg.Indexer, cfg.Owner))

	return &Server{server: server, indexer: cfg.Indexer}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
