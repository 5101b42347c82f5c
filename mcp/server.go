package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ToolHandler is one tool the server exposes to MCP clients.
type ToolHandler struct {
	// Definition describes the tool: name, description, input schema.
	Definition ToolDefinition
	// Execute runs the tool when a client calls tools/call.
	Execute func(ctx context.Context, args json.RawMessage) ToolCallResult
}

// Resource is a readable data source exposed via resources/list and
// resources/read.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	// Read returns the content, called per resources/read request.
	Read func() string
}

// Server speaks MCP over newline-delimited JSON-RPC 2.0 on stdio. Register
// tools and resources before calling Serve.
type Server struct {
	name    string
	version string

	tools     []ToolHandler
	resources []Resource

	reader io.Reader
	writer io.Writer
	logger *slog.Logger
	mu     sync.Mutex // serializes writes
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTransport replaces the stdio transport, e.g. for tests.
func WithTransport(r io.Reader, w io.Writer) ServerOption {
	return func(s *Server) { s.reader = r; s.writer = w }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// New creates an MCP server identifying itself with name and version.
func New(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		name:    name,
		version: version,
		reader:  os.Stdin,
		writer:  os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// AddTool registers a tool handler. Call before Serve.
func (s *Server) AddTool(h ToolHandler) {
	s.tools = append(s.tools, h)
}

// AddResource registers a resource. Call before Serve.
func (s *Server) AddResource(r Resource) {
	s.resources = append(s.resources, r)
}

// Serve reads JSON-RPC messages line by line and writes responses. Blocks
// until the reader closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleMessage(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: read transport: %w", err)
	}
	return nil
}

// handleMessage dispatches one message, which may be a JSON-RPC batch.
func (s *Server) handleMessage(ctx context.Context, data []byte) {
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			s.writeResponse(response{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &rpcError{Code: errCodeParse, Message: "parse error"},
			})
			return
		}
		for _, raw := range batch {
			s.handleSingle(ctx, raw)
		}
		return
	}
	s.handleSingle(ctx, data)
}

func (s *Server) handleSingle(ctx context.Context, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeResponse(response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &rpcError{Code: errCodeParse, Message: "parse error"},
		})
		return
	}
	if resp := s.dispatch(ctx, &req); resp != nil {
		s.writeResponse(*resp)
	}
}

// dispatch routes one request. Notifications return nil.
func (s *Server) dispatch(ctx context.Context, req *request) *response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return s.respond(req.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(req)
	default:
		if req.isNotification() {
			return nil
		}
		return s.respondError(req.ID, errCodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handleInitialize(req *request) *response {
	caps := serverCapabilities{}
	if len(s.tools) > 0 {
		caps.Tools = &capability{}
	}
	if len(s.resources) > 0 {
		caps.Resources = &capability{}
	}
	return s.respond(req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    caps,
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsList(req *request) *response {
	defs := make([]ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = t.Definition
	}
	return s.respond(req.ID, toolsListResult{Tools: defs})
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) *response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.respondError(req.ID, errCodeInvalidParams, "invalid params: "+err.Error())
	}
	for _, t := range s.tools {
		if t.Definition.Name == params.Name {
			s.logger.Info("tool call", "tool", params.Name)
			return s.respond(req.ID, t.Execute(ctx, params.Arguments))
		}
	}
	return s.respond(req.ID, ErrorResult("unknown tool: "+params.Name))
}

func (s *Server) handleResourcesList(req *request) *response {
	defs := make([]resourceDef, len(s.resources))
	for i, r := range s.resources {
		defs[i] = resourceDef{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		}
	}
	return s.respond(req.ID, resourcesListResult{Resources: defs})
}

func (s *Server) handleResourcesRead(req *request) *response {
	var params resourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.respondError(req.ID, errCodeInvalidParams, "invalid params: "+err.Error())
	}
	for _, r := range s.resources {
		if r.URI == params.URI {
			return s.respond(req.ID, resourceReadResult{
				Contents: []resourceContent{{URI: r.URI, MimeType: r.MimeType, Text: r.Read()}},
			})
		}
	}
	return s.respondError(req.ID, errCodeInvalidParams, "resource not found: "+params.URI)
}

func (s *Server) respond(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func (s *Server) respondError(id json.RawMessage, code int, message string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func (s *Server) writeResponse(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
