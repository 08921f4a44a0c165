package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/config"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
	"github.com/ironsheep/gel-annotator-mcp/internal/session"
)

// ServerName is reported in the initialize handshake.
const ServerName = "gel-annotator-mcp"

// ProtocolVersion is the MCP protocol revision the server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

// Server handles MCP protocol communication
type Server struct {
	cache    *imaging.ImageCache
	store    *session.Store
	detector detect.Detector
	local    detect.Detector
	cfg      config.Config
	log      *zap.Logger
	version  string
	in       io.Reader
	out      io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the configuration used for defaults.
func WithConfig(cfg config.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithCache shares an image cache with other components.
func WithCache(c *imaging.ImageCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithDetector sets the collaborator behind annotator_detect.
func WithDetector(d detect.Detector) Option {
	return func(s *Server) { s.detector = d }
}

// WithStore sets the image session.
func WithStore(st *session.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(s *Server) { s.in, s.out = in, out }
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

// New creates a server. Without options it uses the default configuration,
// a fresh session, a local (no detection) importer and stdio.
func New(opts ...Option) *Server {
	s := &Server{
		cfg:     config.Default(),
		log:     zap.NewNop(),
		version: "dev",
		in:      os.Stdin,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = imaging.NewImageCache()
	}
	if s.store == nil {
		s.store = session.New(s.log,
			session.WithRules(s.cfg.Rules),
			session.WithClasses(s.cfg.ClassMap()),
			session.WithFitWidth(s.cfg.Display.MaxWidth))
	}
	s.local = detect.NewLocal(s.cache)
	if s.detector == nil {
		s.detector = s.local
	}
	return s
}

// Store returns the server's image session.
func (s *Server) Store() *session.Store { return s.store }

// Run reads requests from the input until EOF or ctx is done, writing one
// response line per request. Detection calls run in the background so the
// session stays responsive; their responses are written when they finish,
// and Run waits for them before returning.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	// Batches with inline detections can be large.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	w := &responseWriter{enc: json.NewEncoder(s.out), log: s.log}
	var background sync.WaitGroup
	defer background.Wait()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("failed to parse request", zap.Error(err))
			w.write(s.errorResponse(nil, codeParseError, "Parse error", err.Error()))
			continue
		}

		if isLongRunning(&req) {
			background.Add(1)
			go func(req MCPRequest) {
				defer background.Done()
				w.write(s.handleRequest(ctx, &req))
			}(req)
			continue
		}
		w.write(s.handleRequest(ctx, &req))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// responseWriter serializes response lines from the read loop and from
// background calls.
type responseWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	log *zap.Logger
}

func (w *responseWriter) write(resp *MCPResponse) {
	if resp == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(resp); err != nil {
		w.log.Error("failed to encode response", zap.Error(err))
	}
}

// isLongRunning reports whether req is a tool call that may block on the
// detector.
func isLongRunning(req *MCPRequest) bool {
	if req.Method != "tools/call" {
		return false
	}
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return false
	}
	return params.Name == "annotator_detect"
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	s.log.Debug("request", zap.String("method", req.Method), zap.Any("id", req.ID))

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
		return s.errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), "")
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}

// errorResponse creates a JSON-RPC error response. An empty data string is
// omitted.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	e := &MCPError{Code: code, Message: message}
	if data != "" {
		e.Data = data
	}
	return &MCPResponse{JSONRPC: "2.0", ID: id, Error: e}
}
