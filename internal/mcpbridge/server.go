// Package mcpbridge implements the Model Context Protocol (MCP) endpoint of
// the gateway.
//
// The server speaks JSON-RPC 2.0 over HTTP: one POST carries one request.
// tools/call is bridged to the upstream text-generation service and answered
// either with a stream of newline-delimited frames or with a single JSON
// document, depending on the transport the upstream actually used.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/metrics"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
	"github.com/jmerrifield20/devops-mcp-gateway/pkg/mcpmanifest"
	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// Opener starts an upstream completion. *upstream.Client implements it.
type Opener interface {
	Open(ctx context.Context, req upstream.ChatRequest) (*upstream.Stream, error)
}

// Options holds server configuration.
type Options struct {
	ServerName    string        // default "DevOps AI Assistant"
	ServerVersion string        // default "1.5.0"
	CallTimeout   time.Duration // overall deadline of one tool call, default 120s
	MaxBodyBytes  int64         // default 1 MB
}

// methodFunc handles one JSON-RPC method and writes its response. The
// returned error is the call outcome, already reported to the client.
type methodFunc func(c *gin.Context, req *request) error

// Server is the HTTP MCP endpoint. It holds no per-request state; all
// dependencies are injected at construction.
type Server struct {
	upstream Opener
	tools    *ToolRegistry
	inflight *inflightRegistry
	opts     Options
	methods  map[string]methodFunc
	logger   *zap.Logger
}

// NewServer creates an MCP server that bridges tool calls to up.
func NewServer(up Opener, tools *ToolRegistry, opts Options, logger *zap.Logger) *Server {
	if opts.ServerName == "" {
		opts.ServerName = "DevOps AI Assistant"
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = "1.5.0"
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = 120 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		upstream: up,
		tools:    tools,
		inflight: newInflightRegistry(),
		opts:     opts,
		logger:   logger,
	}
	s.methods = map[string]methodFunc{
		"initialize":   s.handleInitialize,
		"tools/list":   s.handleToolsList,
		"tools/call":   s.handleToolsCall,
		"tools/cancel": s.handleToolsCancel,
	}
	return s
}

// Register registers the MCP endpoint and its discovery manifest on the
// given router.
func (s *Server) Register(r gin.IRoutes) {
	r.POST("/mcp", s.Handle)
	r.GET("/.well-known/mcp.json", s.handleManifest)
}

// Manifest describes the server for discovery.
func (s *Server) Manifest() mcpmanifest.Manifest {
	m := mcpmanifest.Manifest{
		SchemaVersion: protocolVersion,
		Name:          s.opts.ServerName,
		Version:       s.opts.ServerVersion,
		Description:   "MCP gateway to an OpenAI-compatible completion service",
		Endpoint:      "/mcp",
		Transport:     mcpmanifest.TransportHTTPStream,
		Streaming:     s.tools.Streaming(),
	}
	for _, def := range s.tools.Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			s.logger.Error("encode tool schema", zap.String("tool", def.Name), zap.Error(err))
			continue
		}
		m.Tools = append(m.Tools, mcpmanifest.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return m
}

func (s *Server) handleManifest(c *gin.Context) {
	c.JSON(http.StatusOK, s.Manifest())
}

// Inflight returns the number of tool calls currently running.
func (s *Server) Inflight() int {
	return s.inflight.len()
}

// Handle handles POST /mcp.
func (s *Server) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.opts.MaxBodyBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}
	if int64(len(body)) > s.opts.MaxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	req, err := decodeRequest(body)
	if err != nil {
		s.logger.Debug("rejecting malformed request", zap.Error(err))
		metrics.RecordRPC("", "parse_error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		err := methodNotFoundf("Unknown method: %s", req.Method)
		s.write(c, errorResponse(req.ID, err))
		metrics.RecordRPC("unknown", outcome(err))
		return
	}

	err = handler(c, req)
	metrics.RecordRPC(req.Method, outcome(err))
}

func (s *Server) handleInitialize(c *gin.Context, req *request) error {
	s.write(c, resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.opts.ServerName,
			"version": s.opts.ServerVersion,
		},
	}))
	return nil
}

func (s *Server) handleToolsList(c *gin.Context, req *request) error {
	s.write(c, resultResponse(req.ID, map[string]any{"tools": s.tools.Definitions()}))
	return nil
}

func (s *Server) handleToolsCall(c *gin.Context, req *request) error {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		s.write(c, errorResponse(req.ID, err))
		return err
	}

	chatReq, err := s.tools.Prepare(params.Name, params.Arguments)
	if err != nil {
		s.write(c, errorResponse(req.ID, err))
		return err
	}

	callID := uuid.NewString()
	log := s.logger.With(
		zap.String("call_id", callID),
		zap.ByteString("rpc_id", req.ID),
		zap.String("tool", params.Name),
	)
	log.Info("processing question", zap.Int("question_chars", len(chatReq.Messages[len(chatReq.Messages)-1].Content)))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.CallTimeout)
	defer cancel()
	release := s.inflight.add(req.ID, cancel)
	defer release()
	defer metrics.TrackInflight()()

	start := time.Now()
	stream, err := s.upstream.Open(ctx, chatReq)
	if err != nil {
		err = withCause(ctx, err)
		log.Warn("upstream call failed", zap.Error(err))
		s.write(c, errorResponse(req.ID, err))
		return err
	}
	defer stream.Close()

	err = newFrameEmitter(ctx, c.Writer, req.ID).emit(stream)
	if err != nil {
		log.Warn("tool call ended with error",
			zap.String("transport", string(stream.Transport())),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return err
	}

	log.Info("tool call complete",
		zap.String("transport", string(stream.Transport())),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func (s *Server) handleToolsCancel(c *gin.Context, req *request) error {
	var params struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.logger.Debug("malformed cancel params, nothing to abort",
			zap.ByteString("params", req.Params),
			zap.Error(err),
		)
	}

	n := s.inflight.cancel(params.ID)
	metrics.RecordCancel(n > 0)
	s.logger.Info("cancellation requested",
		zap.ByteString("target_id", params.ID),
		zap.Int("aborted", n),
	)

	s.write(c, resultResponse(req.ID, json.RawMessage(`null`)))
	return nil
}

func (s *Server) write(c *gin.Context, resp response) {
	c.JSON(http.StatusOK, resp)
}
