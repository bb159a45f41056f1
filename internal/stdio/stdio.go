// ABOUTME: Line-delimited JSON-RPC 2.0 transport over stdin/stdout
// ABOUTME: Serves the dispatch core to MCP clients spawning the process directly

package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/zammad-mcp/mcp-zammad/internal/core"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server serves the core over a line-delimited JSON-RPC stream.
type Server struct {
	core    core.Core
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	name    string
	version string
}

// New creates a stdio server reading requests from in and writing responses
// to out, one JSON object per line.
func New(c core.Core, logger *slog.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{
		core:    c,
		logger:  logger.With("component", "stdio"),
		in:      in,
		out:     out,
		name:    "mcp-zammad",
		version: "1.0.0",
	}
}

// Run processes requests until the input stream closes or the context is
// canceled. Notifications get no response; everything else gets exactly one.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)
	out := bufio.NewWriter(s.out)

	write := func(resp rpcResponse) error {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if _, err := out.Write(append(b, '\n')); err != nil {
			return err
		}
		return out.Flush()
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = write(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		if req.Method == "notifications/initialized" {
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := write(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dispatch resolves one request into its response.
func (s *Server) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	result, err := s.handle(ctx, req)
	if err != nil {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: toRPCError(err)}
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var errUnknownMethod = errors.New("method not found")
var errInvalidParams = errors.New("invalid params")

func (s *Server) handle(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return s.initializeResult(ctx)
	case "tools/list":
		return s.listTools(ctx)
	case "tools/call":
		return s.callTool(ctx, req.Params)
	case "resources/list":
		return s.listResources(ctx)
	case "resources/read":
		return s.readResource(ctx, req.Params)
	case "prompts/list":
		return s.listPrompts(ctx)
	case "prompts/get":
		return s.getPrompt(ctx, req.Params)
	default:
		s.logger.Debug("unknown method", "method", req.Method)
		return nil, errUnknownMethod
	}
}

func (s *Server) initializeResult(ctx context.Context) (any, error) {
	if err := s.core.Initialize(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	}, nil
}

func (s *Server) listTools(ctx context.Context) (any, error) {
	tools, err := s.core.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{}
		}
		out[i] = map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": schema,
		}
	}
	return map[string]any{"tools": out}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, errInvalidParams
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	result, err := s.core.CallTool(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}
	return dumpValue(result), nil
}

func (s *Server) listResources(ctx context.Context) (any, error) {
	resources, err := s.core.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(resources))
	for i, r := range resources {
		mimeType := r.MimeType
		if mimeType == "" {
			mimeType = "text/plain"
		}
		out[i] = map[string]any{
			"uri":         r.URI,
			"name":        r.Name,
			"description": r.Description,
			"mimeType":    mimeType,
		}
	}
	return map[string]any{"resources": out}, nil
}

func (s *Server) readResource(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
		return nil, errInvalidParams
	}

	content, err := s.core.ReadResource(ctx, p.URI)
	if err != nil {
		return nil, err
	}

	mimeType := "text/plain"
	text := ""
	if content != nil {
		if content.MimeType != "" {
			mimeType = content.MimeType
		}
		text = content.Text
	}
	return map[string]any{
		"contents": []map[string]any{
			{"uri": p.URI, "mimeType": mimeType, "text": text},
		},
	}, nil
}

func (s *Server) listPrompts(ctx context.Context) (any, error) {
	prompts, err := s.core.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(prompts))
	for i, p := range prompts {
		args := p.Arguments
		if args == nil {
			args = []core.PromptArgument{}
		}
		out[i] = map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"arguments":   args,
		}
	}
	return map[string]any{"prompts": out}, nil
}

func (s *Server) getPrompt(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, errInvalidParams
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	result, err := s.core.GetPrompt(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}
	return dumpValue(result), nil
}

// dumpValue resolves core result values into JSON-encodable form.
func dumpValue(v any) any {
	switch val := v.(type) {
	case core.Value:
		return val.Dump()
	case []core.Value:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item.Dump()
		}
		return out
	default:
		return v
	}
}

// toRPCError maps core and transport errors to JSON-RPC error objects.
func toRPCError(err error) *rpcError {
	switch {
	case errors.Is(err, errUnknownMethod),
		errors.Is(err, core.ErrToolNotFound),
		errors.Is(err, core.ErrResourceNotFound),
		errors.Is(err, core.ErrPromptNotFound):
		return &rpcError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, errInvalidParams),
		errors.Is(err, core.ErrInvalidArguments):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &rpcError{Code: codeInternalError, Message: err.Error()}
	}
}
