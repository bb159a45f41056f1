// ABOUTME: Tests for the line-delimited JSON-RPC transport
// ABOUTME: Covers dispatch, notifications, parse errors, and error codes

package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zammad-mcp/mcp-zammad/internal/core"
)

type fakeCore struct {
	tools      []core.Tool
	resources  []core.Resource
	prompts    []core.Prompt
	callToolFn func(ctx context.Context, name string, args map[string]any) (any, error)
}

func (f *fakeCore) Initialize(context.Context) error { return nil }
func (f *fakeCore) Close() error                     { return nil }

func (f *fakeCore) ListTools(context.Context) ([]core.Tool, error)         { return f.tools, nil }
func (f *fakeCore) ListResources(context.Context) ([]core.Resource, error) { return f.resources, nil }
func (f *fakeCore) ListPrompts(context.Context) ([]core.Prompt, error)     { return f.prompts, nil }

func (f *fakeCore) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if f.callToolFn != nil {
		return f.callToolFn(ctx, name, args)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrToolNotFound, name)
}

func (f *fakeCore) ReadResource(ctx context.Context, uri string) (*core.ResourceContent, error) {
	return nil, fmt.Errorf("%w: %s", core.ErrResourceNotFound, uri)
}

func (f *fakeCore) GetPrompt(ctx context.Context, name string, args map[string]any) (any, error) {
	return nil, fmt.Errorf("%w: %s", core.ErrPromptNotFound, name)
}

// run feeds the given lines to a stdio server and returns one decoded
// response per output line.
func run(t *testing.T, c core.Core, lines ...string) []map[string]any {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	s := New(c, logger, in, &out)
	require.NoError(t, s.Run(context.Background()))

	var responses []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line %q", line)
		responses = append(responses, resp)
	}
	return responses
}

func TestInitialize(t *testing.T) {
	responses := run(t, &fakeCore{}, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, float64(1), resp["id"])

	result := resp["result"].(map[string]any)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "mcp-zammad", info["name"])
}

func TestInitializedNotificationHasNoResponse(t *testing.T) {
	responses := run(t, &fakeCore{},
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, responses, 1)
	assert.Equal(t, float64(2), responses[0]["id"])
}

func TestToolsListAndCall(t *testing.T) {
	c := &fakeCore{
		tools: []core.Tool{{Name: "search_tickets"}},
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			assert.Equal(t, "search_tickets", name)
			assert.Equal(t, "open", args["query"])
			return map[string]any{"count": 2}, nil
		},
	}

	responses := run(t, c,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_tickets","arguments":{"query":"open"}}}`,
	)
	require.Len(t, responses, 2)

	tools := responses[0]["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 1)
	// Nil schema defaults to an empty object
	assert.Equal(t, map[string]any{}, tools[0].(map[string]any)["inputSchema"])

	result := responses[1]["result"].(map[string]any)
	assert.Equal(t, float64(2), result["count"])
}

func TestUnknownMethod(t *testing.T) {
	responses := run(t, &fakeCore{}, `{"jsonrpc":"2.0","id":3,"method":"tools/destroy"}`)
	require.Len(t, responses, 1)

	rpcErr := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(codeMethodNotFound), rpcErr["code"])
}

func TestParseError(t *testing.T) {
	responses := run(t, &fakeCore{}, `{not json`)
	require.Len(t, responses, 1)

	rpcErr := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(codeParseError), rpcErr["code"])
}

func TestInvalidToolCallParams(t *testing.T) {
	responses := run(t, &fakeCore{}, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"arguments":{}}}`)
	require.Len(t, responses, 1)

	rpcErr := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(codeInvalidParams), rpcErr["code"])
}

func TestUnknownToolMapsToMethodNotFound(t *testing.T) {
	responses := run(t, &fakeCore{}, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope"}}`)
	require.Len(t, responses, 1)

	rpcErr := responses[0]["error"].(map[string]any)
	assert.Equal(t, float64(codeMethodNotFound), rpcErr["code"])
	assert.Contains(t, rpcErr["message"], "not found")
}

func TestResourcesListDefaultsMimeType(t *testing.T) {
	c := &fakeCore{resources: []core.Resource{{URI: "zammad://queue", Name: "Queue"}}}
	responses := run(t, c, `{"jsonrpc":"2.0","id":6,"method":"resources/list"}`)
	require.Len(t, responses, 1)

	resources := responses[0]["result"].(map[string]any)["resources"].([]any)
	assert.Equal(t, "text/plain", resources[0].(map[string]any)["mimeType"])
}

func TestBlankLinesSkipped(t *testing.T) {
	responses := run(t, &fakeCore{},
		``,
		`{"jsonrpc":"2.0","id":7,"method":"prompts/list"}`,
	)
	require.Len(t, responses, 1)
}
