package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ironsheep/density-tools-mcp/internal/config"
	"github.com/ironsheep/density-tools-mcp/internal/contours"
	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/hotspots"
	"github.com/ironsheep/density-tools-mcp/internal/imaging"
	"github.com/ironsheep/density-tools-mcp/internal/render"
	"github.com/ironsheep/density-tools-mcp/internal/store"
	"github.com/rs/zerolog"
)

// Version is reported in the initialize handshake.
var Version = "dev"

// Server handles MCP protocol communication
type Server struct {
	cfg      config.Config
	log      zerolog.Logger
	images   *imaging.ImageCache
	rasters  *imaging.Cache[string, *densitymap.Raster]
	builder  *densitymap.Builder
	renderer *render.Renderer
	finder   *hotspots.Finder
	tracer   *contours.Tracer
	store    *store.Store

	mu        sync.Mutex
	workspace *workspace
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a new MCP server instance. st may be nil, which disables the
// persistence tools.
func New(cfg config.Config, log zerolog.Logger, st *store.Store) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		images:   imaging.NewImageCache(cfg.ImageCache),
		rasters:  imaging.NewCache[string, *densitymap.Raster](cfg.RasterCache),
		builder:  densitymap.NewBuilder(log, densitymap.WithTileSize(cfg.TileSize), densitymap.WithWorkers(cfg.Workers)),
		renderer: render.NewRenderer(log, cfg.MinMaxCache, cfg.TileCache),
		finder:   hotspots.NewFinder(log),
		tracer:   contours.NewTracer(log),
		store:    st,
	}
}

// Run starts the MCP server, reading from stdin and writing to stdout
func (s *Server) Run() error {
	return s.Serve(context.Background(), os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from r and writes responses to
// w until r is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	defer s.Close()

	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn().Err(err).Msg("failed to parse request")
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.log.Error().Err(err).Msg("failed to encode response")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// Close stops the active session and releases the hierarchy subscription.
func (s *Server) Close() {
	s.mu.Lock()
	ws := s.workspace
	s.workspace = nil
	s.mu.Unlock()
	if ws != nil {
		ws.close()
	}
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "density-tools-mcp",
				"version": Version,
			},
		},
	}
}
