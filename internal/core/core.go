// ABOUTME: Capability core exposing tools, resources and prompts over a narrow interface
// ABOUTME: Defines the Core boundary consumed by the HTTP gateway and stdio server

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zammad-mcp/mcp-zammad/internal/zammad"
)

// Sentinel errors carried through the call chain so callers can map
// failure kinds to protocol error codes without string inspection.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Tool describes a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Resource describes a readable resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// Prompt describes a renderable prompt.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ResourceContent is the payload of a successful resource read.
type ResourceContent struct {
	MimeType string
	Text     string
}

// Value is implemented by structured results that control their own wire
// representation. Callers serialize Dump() instead of the value itself.
type Value interface {
	Dump() any
}

// Core is the capability boundary consumed by the gateway and stdio server.
// Implementations must be safe for concurrent invocation.
type Core interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContent, error)
	GetPrompt(ctx context.Context, name string, args map[string]any) (any, error)
	Close() error
}

// ToolHandler executes a tool call with already-decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// PromptHandler renders a prompt with the given arguments.
type PromptHandler func(ctx context.Context, args map[string]any) (any, error)

// ResourceHandler reads a resource. For template-backed resources the single
// extracted parameter is passed in params.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) (*ResourceContent, error)

type toolEntry struct {
	def     Tool
	handler ToolHandler
}

type resourceEntry struct {
	def     Resource
	pattern string // URI or single-parameter template, e.g. zammad://ticket/{ticket_id}
	handler ResourceHandler
}

type promptEntry struct {
	def     Prompt
	handler PromptHandler
}

// Server is the Zammad-backed Core implementation. The registries are built
// once at construction and never mutated afterwards, so all operations are
// safe for concurrent use.
type Server struct {
	client *zammad.Client
	logger *slog.Logger

	tools     []toolEntry
	toolIndex map[string]int

	resources []resourceEntry

	prompts     []promptEntry
	promptIndex map[string]int
}

// NewServer creates a Core backed by the given Zammad client with the full
// builtin tool, resource and prompt registries.
func NewServer(client *zammad.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		client:      client,
		logger:      logger,
		toolIndex:   make(map[string]int),
		promptIndex: make(map[string]int),
	}
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Initialize verifies Zammad connectivity and credentials. It is called once
// before any request is served.
func (s *Server) Initialize(ctx context.Context) error {
	me, err := s.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("verifying zammad connection: %w", err)
	}
	s.logger.Info("connected to zammad", "login", me.Login)
	return nil
}

// Close releases core resources. The Zammad client holds no persistent
// connections, so this is currently a no-op kept for the lifecycle contract.
func (s *Server) Close() error {
	return nil
}

// ListTools returns the tool catalog.
func (s *Server) ListTools(_ context.Context) ([]Tool, error) {
	tools := make([]Tool, len(s.tools))
	for i, entry := range s.tools {
		tools[i] = entry.def
	}
	return tools, nil
}

// ListResources returns the resource catalog, including template entries.
func (s *Server) ListResources(_ context.Context) ([]Resource, error) {
	resources := make([]Resource, len(s.resources))
	for i, entry := range s.resources {
		resources[i] = entry.def
	}
	return resources, nil
}

// ListPrompts returns the prompt catalog.
func (s *Server) ListPrompts(_ context.Context) ([]Prompt, error) {
	prompts := make([]Prompt, len(s.prompts))
	for i, entry := range s.prompts {
		prompts[i] = entry.def
	}
	return prompts, nil
}

// CallTool executes the named tool. Returns ErrToolNotFound for unknown names
// and ErrInvalidArguments when required arguments are missing or malformed.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	idx, ok := s.toolIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	s.logger.Debug("tool call", "tool", name)
	return s.tools[idx].handler(ctx, args)
}

// ReadResource resolves the URI against the registry, exact entries first,
// then single-parameter templates. Returns ErrResourceNotFound when nothing
// matches. The URI is taken as-is; no decoding is applied.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	for _, entry := range s.resources {
		params, ok := matchResource(uri, entry.pattern)
		if !ok {
			continue
		}
		s.logger.Debug("resource read", "uri", uri, "pattern", entry.pattern)
		return entry.handler(ctx, uri, params)
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

// GetPrompt renders the named prompt. Returns ErrPromptNotFound for unknown names.
func (s *Server) GetPrompt(ctx context.Context, name string, args map[string]any) (any, error) {
	idx, ok := s.promptIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	s.logger.Debug("prompt get", "prompt", name)
	return s.prompts[idx].handler(ctx, args)
}

func (s *Server) registerTool(def Tool, handler ToolHandler) {
	s.toolIndex[def.Name] = len(s.tools)
	s.tools = append(s.tools, toolEntry{def: def, handler: handler})
}

func (s *Server) registerResource(def Resource, pattern string, handler ResourceHandler) {
	s.resources = append(s.resources, resourceEntry{def: def, pattern: pattern, handler: handler})
}

func (s *Server) registerPrompt(def Prompt, handler PromptHandler) {
	s.promptIndex[def.Name] = len(s.prompts)
	s.prompts = append(s.prompts, promptEntry{def: def, handler: handler})
}

// Argument decoding helpers shared by tool and prompt handlers.

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidArguments, key)
	}
	return str, nil
}

// optStringArg extracts an optional string argument, returning def when absent.
func optStringArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidArguments, key)
	}
	return str, nil
}

// intArg extracts a required integer argument. JSON numbers decode as
// float64, so both forms are accepted.
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	return coerceInt(v, key)
}

// optIntArg extracts an optional integer argument, returning def when absent.
func optIntArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	return coerceInt(v, key)
}

// optBoolArg extracts an optional boolean argument, returning def when absent.
func optBoolArg(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean", ErrInvalidArguments, key)
	}
	return b, nil
}

func coerceInt(v any, key string) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidArguments, key)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidArguments, key)
	}
}
