// ABOUTME: Capability adapters that bridge parsed method calls to the RPC core
// ABOUTME: Projects core catalogs into descriptors and normalizes result values

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/zammad-mcp/mcp-zammad/internal/core"
)

// ToolDescriptor is the wire form of a tool catalog entry.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ResourceDescriptor is the wire form of a resource catalog entry.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PromptDescriptor is the wire form of a prompt catalog entry.
type PromptDescriptor struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Arguments   []core.PromptArgument `json:"arguments"`
}

// invoke dispatches a parsed method call to the matching capability adapter.
// Exhaustive over methodKind; the unary endpoint passes legacy tools/call
// through, the stream endpoint maps it to kindUnknown before calling.
func (g *Gateway) invoke(ctx context.Context, method string, call methodCall, params map[string]any) (any, error) {
	switch call.kind {
	case kindToolsList:
		return g.listTools(ctx)
	case kindResourcesList:
		return g.listResources(ctx)
	case kindPromptsList:
		return g.listPrompts(ctx)
	case kindToolsCall:
		name, args, err := toolCallParams(params)
		if err != nil {
			return nil, err
		}
		return g.callTool(ctx, name, args)
	case kindToolsCallLegacy:
		return g.callTool(ctx, call.target, params)
	case kindResourcesRead:
		return g.readResource(ctx, call.target)
	case kindPromptsGet:
		return g.getPrompt(ctx, call.target, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

// listTools projects the core tool catalog into descriptors, substituting
// defaults for absent optional fields.
func (g *Gateway) listTools(ctx context.Context) (any, error) {
	tools, err := g.core.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	descriptors := make([]ToolDescriptor, len(tools))
	for i, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{}
		}
		descriptors[i] = ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return map[string]any{"tools": descriptors}, nil
}

// listResources projects the core resource catalog into descriptors.
func (g *Gateway) listResources(ctx context.Context) (any, error) {
	resources, err := g.core.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}

	descriptors := make([]ResourceDescriptor, len(resources))
	for i, r := range resources {
		mimeType := r.MimeType
		if mimeType == "" {
			mimeType = "text/plain"
		}
		descriptors[i] = ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    mimeType,
		}
	}
	return map[string]any{"resources": descriptors}, nil
}

// listPrompts projects the core prompt catalog into descriptors.
func (g *Gateway) listPrompts(ctx context.Context) (any, error) {
	prompts, err := g.core.ListPrompts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}

	descriptors := make([]PromptDescriptor, len(prompts))
	for i, p := range prompts {
		args := p.Arguments
		if args == nil {
			args = []core.PromptArgument{}
		}
		descriptors[i] = PromptDescriptor{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		}
	}
	return map[string]any{"prompts": descriptors}, nil
}

// callTool invokes a tool through the core and normalizes its result.
func (g *Gateway) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := g.core.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return normalizeResult(result), nil
}

// readResource reads a resource through the core and wraps it in the MCP
// contents envelope, defaulting mimeType and text when the core omits them.
func (g *Gateway) readResource(ctx context.Context, uri string) (any, error) {
	content, err := g.core.ReadResource(ctx, uri)
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
			{
				"uri":      uri,
				"mimeType": mimeType,
				"text":     text,
			},
		},
	}, nil
}

// getPrompt renders a prompt through the core, passing extra request params
// straight through as prompt arguments.
func (g *Gateway) getPrompt(ctx context.Context, name string, params map[string]any) (any, error) {
	result, err := g.core.GetPrompt(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return normalizeResult(result), nil
}

// normalizeResult resolves core result values into JSON-encodable form via
// the core.Value contract: a single Value, a slice of Values, or an already
// encodable value passed through unchanged.
func normalizeResult(v any) any {
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

// errorCode maps an error to its envelope code. Known kinds get specific
// codes; everything else is an internal error.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrMethodNotFound),
		errors.Is(err, core.ErrToolNotFound),
		errors.Is(err, core.ErrResourceNotFound),
		errors.Is(err, core.ErrPromptNotFound):
		return CodeMethodNotFound
	case errors.Is(err, ErrMissingToolName),
		errors.Is(err, core.ErrInvalidArguments):
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}
