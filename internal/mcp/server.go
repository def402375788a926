package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mendoc/zoomchat/internal/app"
	"github.com/mendoc/zoomchat/internal/extraction"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/searcher"
	"github.com/mendoc/zoomchat/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "zoomchat"
)

// ServerVersion is set by the binary at startup
var ServerVersion = "dev"

// Extractor runs extraction for a publication
type Extractor interface {
	ExtractPublication(ctx context.Context, number string, opts extraction.Options) (*types.ExtractionRunStats, error)
	ExtractLatest(ctx context.Context, opts extraction.Options) (*types.ExtractionRunStats, error)
}

// ListingSearcher answers search queries
type ListingSearcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// Publications is the publication side of the store
type Publications interface {
	GetPublicationByNumber(ctx context.Context, number string) (*types.Publication, error)
	GetLatestPublication(ctx context.Context) (*types.Publication, error)
	AttachDeliveredFile(ctx context.Context, number, fileRef string) error
	CountListings(ctx context.Context, publicationID int64) (int, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	extractor    Extractor
	searcher     ListingSearcher
	publications Publications
	logger       *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(extractor Extractor, search ListingSearcher, pubs Publications, logger *slog.Logger) *Server {
	s := &Server{
		mcp:          server.NewMCPServer(ServerName, ServerVersion),
		extractor:    extractor,
		searcher:     search,
		publications: pubs,
		logger:       logging.Component(logger, "mcp"),
	}
	s.registerTools()
	return s
}

// NewFromApp exposes a wired application
func NewFromApp(a *app.App) *Server {
	return NewServer(a.Orchestrator, a.Searcher, a.Store, a.Logger)
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(extractPublicationTool(), s.handleExtractPublication)
	s.mcp.AddTool(searchListingsTool(), s.handleSearchListings)
	s.mcp.AddTool(getPublicationTool(), s.handleGetPublication)
	s.mcp.AddTool(attachDeliveredFileTool(), s.handleAttachDeliveredFile)
}
