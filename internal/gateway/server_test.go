// ABOUTME: Tests for the gateway HTTP endpoints over a fake core
// ABOUTME: Covers envelopes, error codes, SSE event order, and auth wiring

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zammad-mcp/mcp-zammad/internal/config"
	"github.com/zammad-mcp/mcp-zammad/internal/core"
)

// fakeCore is a canned-response Core implementation for handler tests.
type fakeCore struct {
	tools     []core.Tool
	resources []core.Resource
	prompts   []core.Prompt

	callToolFn     func(ctx context.Context, name string, args map[string]any) (any, error)
	readResourceFn func(ctx context.Context, uri string) (*core.ResourceContent, error)
	getPromptFn    func(ctx context.Context, name string, args map[string]any) (any, error)
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
	if f.readResourceFn != nil {
		return f.readResourceFn(ctx, uri)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrResourceNotFound, uri)
}

func (f *fakeCore) GetPrompt(ctx context.Context, name string, args map[string]any) (any, error) {
	if f.getPromptFn != nil {
		return f.getPromptFn(ctx, name, args)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrPromptNotFound, name)
}

type fakeValue struct {
	payload map[string]any
}

func (v fakeValue) Dump() any { return v.payload }

func newTestGateway(t *testing.T, c core.Core, opts ...Option) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	g := New(cfg, c, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), opts...)

	mux := http.NewServeMux()
	g.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postCall(t *testing.T, ts *httptest.Server, body string) (*http.Response, Response) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/mcp/call", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope Response
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp, envelope
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestCallToolsList(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		tools: []core.Tool{
			{Name: "search_tickets", Description: "Search tickets"},
		},
	})

	resp, envelope := postCall(t, ts, `{"method":"tools/list"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, envelope.Error)

	result, ok := envelope.Result.(map[string]any)
	require.True(t, ok)
	tools, ok := result["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)

	tool := tools[0].(map[string]any)
	assert.Equal(t, "search_tickets", tool["name"])
	// Nil schema defaults to an empty object, never null.
	assert.Equal(t, map[string]any{}, tool["inputSchema"])
}

func TestCallResourceDescriptorDefaults(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		resources: []core.Resource{{URI: "zammad://queue", Name: "Queue"}},
	})

	_, envelope := postCall(t, ts, `{"method":"resources/list"}`)
	require.Nil(t, envelope.Error)

	result := envelope.Result.(map[string]any)
	resources := result["resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "text/plain", resources[0].(map[string]any)["mimeType"])
}

func TestCallUnknownMethod(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, envelope := postCall(t, ts, `{"method":"tools/destroy"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, CodeMethodNotFound, envelope.Error.Code)
	assert.Contains(t, envelope.Error.Message, "not found")
	assert.Nil(t, envelope.Result)
}

func TestCallToolByParams(t *testing.T) {
	var gotName string
	var gotArgs map[string]any
	ts := newTestGateway(t, &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			gotName = name
			gotArgs = args
			return fakeValue{payload: map[string]any{"ok": true}}, nil
		},
	})

	_, envelope := postCall(t, ts, `{"method":"tools/call","params":{"name":"get_ticket","arguments":{"ticket_id":7}}}`)
	require.Nil(t, envelope.Error)
	assert.Equal(t, "get_ticket", gotName)
	assert.Equal(t, float64(7), gotArgs["ticket_id"])
	assert.Equal(t, map[string]any{"ok": true}, envelope.Result)
}

func TestCallLegacyToolForm(t *testing.T) {
	var gotName string
	ts := newTestGateway(t, &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			gotName = name
			return map[string]any{"states": []any{}}, nil
		},
	})

	_, envelope := postCall(t, ts, `{"method":"tools/call/list_ticket_states"}`)
	require.Nil(t, envelope.Error)
	assert.Equal(t, "list_ticket_states", gotName)
}

func TestCallMissingToolNameIsBadRequest(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, _ := postCall(t, ts, `{"method":"tools/call","params":{"arguments":{}}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallInvalidJSON(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, _ := postCall(t, ts, `{"method":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallRejectsGet(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, err := http.Get(ts.URL + "/mcp/call")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCallReadResourceWrapsContents(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		readResourceFn: func(_ context.Context, uri string) (*core.ResourceContent, error) {
			return &core.ResourceContent{MimeType: "application/json", Text: `{"tickets":[]}`}, nil
		},
	})

	_, envelope := postCall(t, ts, `{"method":"resources/read/zammad://queue"}`)
	require.Nil(t, envelope.Error)

	result := envelope.Result.(map[string]any)
	contents := result["contents"].([]any)
	require.Len(t, contents, 1)
	entry := contents[0].(map[string]any)
	assert.Equal(t, "zammad://queue", entry["uri"])
	assert.Equal(t, "application/json", entry["mimeType"])
	assert.Equal(t, `{"tickets":[]}`, entry["text"])
}

func TestCallResourceReadIsIdempotent(t *testing.T) {
	calls := 0
	ts := newTestGateway(t, &fakeCore{
		readResourceFn: func(_ context.Context, uri string) (*core.ResourceContent, error) {
			calls++
			return &core.ResourceContent{MimeType: "application/json", Text: `{"n":1}`}, nil
		},
	})

	_, first := postCall(t, ts, `{"method":"resources/read/zammad://queue"}`)
	_, second := postCall(t, ts, `{"method":"resources/read/zammad://queue"}`)
	assert.Equal(t, 2, calls)
	assert.Equal(t, first.Result, second.Result)
}

func TestCallErrorEnvelopeCodes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"unknown tool", `{"method":"tools/call","params":{"name":"nope"}}`, CodeMethodNotFound},
		{"unknown resource", `{"method":"resources/read/zammad://nothing"}`, CodeMethodNotFound},
		{"unknown prompt", `{"method":"prompts/get/nope"}`, CodeMethodNotFound},
	}

	ts := newTestGateway(t, &fakeCore{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := postCall(t, ts, tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			require.NotNil(t, envelope.Error)
			assert.Equal(t, tt.wantCode, envelope.Error.Code)
		})
	}
}

func TestCallInvalidArgumentsCode(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			return nil, fmt.Errorf("%w: missing %q", core.ErrInvalidArguments, "query")
		},
	})

	_, envelope := postCall(t, ts, `{"method":"tools/call","params":{"name":"search_tickets"}}`)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, CodeInvalidParams, envelope.Error.Code)
}

// sseEvent is one parsed event from an SSE stream.
type sseEvent struct {
	name string
	data string
}

func readSSEEvents(t *testing.T, body *bufio.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	return events
}

func postStream(t *testing.T, ts *httptest.Server, body string) (*http.Response, []sseEvent) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(ts.URL+"/mcp/stream", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, readSSEEvents(t, bufio.NewReader(resp.Body))
}

func TestStreamSuccessEventOrder(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		tools: []core.Tool{{Name: "search_tickets"}},
	})

	resp, events := postStream(t, ts, `{"method":"tools/list"}`)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	require.Len(t, events, 3)
	assert.Equal(t, "connected", events[0].name)
	assert.Equal(t, "result", events[1].name)
	assert.Equal(t, "done", events[2].name)

	var connected map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &connected))
	assert.NotEmpty(t, connected["session_id"])

	var done map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &done))
	assert.Equal(t, "completed", done["status"])
}

func TestStreamErrorTerminates(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	_, events := postStream(t, ts, `{"method":"no/such/method"}`)
	require.Len(t, events, 2)
	assert.Equal(t, "connected", events[0].name)
	assert.Equal(t, "error", events[1].name)

	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &payload))
	assert.Equal(t, CodeMethodNotFound, payload.Error.Code)
	assert.Contains(t, payload.Error.Message, "not found")
}

func TestStreamRejectsLegacyToolForm(t *testing.T) {
	// The path-embedded tool form is unary-only; the stream treats it as an
	// unknown method.
	ts := newTestGateway(t, &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			t.Fatal("tool must not be invoked")
			return nil, nil
		},
	})

	_, events := postStream(t, ts, `{"method":"tools/call/search_tickets"}`)
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].name)
}

func TestStreamToolCall(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			return []core.Value{fakeValue{payload: map[string]any{"id": 1}}}, nil
		},
	})

	_, events := postStream(t, ts, `{"method":"tools/call","params":{"name":"search_tickets","arguments":{"query":"open"}}}`)
	require.Len(t, events, 3)
	assert.Equal(t, "result", events[1].name)

	var result []map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &result))
	require.Len(t, result, 1)
	assert.Equal(t, float64(1), result[0]["id"])
}

func TestAuthMiddlewareAppliesToMCPOnly(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer good" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	ts := newTestGateway(t, &fakeCore{}, WithAuthMiddleware(deny))

	// /health stays open
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// /mcp/call requires the token
	resp, err = http.Post(ts.URL+"/mcp/call", "application/json", strings.NewReader(`{"method":"tools/list"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp/call", strings.NewReader(`{"method":"tools/list"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/mcp/call", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflightSkipsAuth(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		})
	}
	ts := newTestGateway(t, &fakeCore{}, WithAuthMiddleware(deny))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/mcp/call", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	// Browsers never attach credentials to preflights, so they must not
	// pass through the auth middleware.
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCORSHeadersOnActualRequests(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, envelope := postCall(t, ts, `{"method":"tools/list"}`)
	require.Nil(t, envelope.Error)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// recordingRecorder captures audit records in memory.
type recordingRecorder struct {
	records []CallRecord
}

func (r *recordingRecorder) Record(_ context.Context, entry CallRecord) error {
	r.records = append(r.records, entry)
	return nil
}

func TestRecorderReceivesCalls(t *testing.T) {
	rec := &recordingRecorder{}
	ts := newTestGateway(t, &fakeCore{}, WithRecorder(rec))

	postCall(t, ts, `{"method":"tools/list"}`)
	postCall(t, ts, `{"method":"nope"}`)

	require.Len(t, rec.records, 2)
	assert.Equal(t, "call", rec.records[0].Endpoint)
	assert.Equal(t, "tools/list", rec.records[0].Method)
	assert.Zero(t, rec.records[0].ErrorCode)
	assert.Equal(t, CodeMethodNotFound, rec.records[1].ErrorCode)
	assert.NotEmpty(t, rec.records[0].ID)
}

func TestStreamDisconnectedCallStillRecorded(t *testing.T) {
	rec := &recordingRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	c := &fakeCore{
		callToolFn: func(_ context.Context, name string, args map[string]any) (any, error) {
			// Simulate the client going away while the tool runs.
			cancel()
			return fakeValue{payload: map[string]any{"id": 1}}, nil
		},
	}
	g := New(&config.Config{}, c, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), WithRecorder(rec))

	body := `{"method":"tools/call","params":{"name":"search_tickets"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/stream", strings.NewReader(body)).WithContext(ctx)
	w := httptest.NewRecorder()
	g.handleStream(w, req)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "stream", rec.records[0].Endpoint)
	assert.Equal(t, "tools/call", rec.records[0].Method)
	assert.Zero(t, rec.records[0].ErrorCode)

	// No terminal event goes out after the disconnect.
	out := w.Body.String()
	assert.Contains(t, out, "event: connected")
	assert.NotContains(t, out, "event: result")
	assert.NotContains(t, out, "event: done")
}

func TestCatalogPage(t *testing.T) {
	ts := newTestGateway(t, &fakeCore{
		tools:   []core.Tool{{Name: "search_tickets", Description: "Search tickets"}},
		prompts: []core.Prompt{{Name: "draft_response", Arguments: []core.PromptArgument{{Name: "ticket_id", Required: true}}}},
	})

	resp, err := http.Get(ts.URL + "/catalog")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "search_tickets")
	assert.Contains(t, buf.String(), "draft_response")
}

func TestNormalizeResultPassThrough(t *testing.T) {
	plain := map[string]any{"states": []any{}}
	assert.Equal(t, plain, normalizeResult(plain))
	assert.Equal(t, map[string]any{"x": 1}, normalizeResult(fakeValue{payload: map[string]any{"x": 1}}))
}

func TestErrorCodeCoreSentinels(t *testing.T) {
	assert.Equal(t, CodeMethodNotFound, errorCode(fmt.Errorf("wrap: %w", core.ErrToolNotFound)))
	assert.Equal(t, CodeMethodNotFound, errorCode(fmt.Errorf("wrap: %w", core.ErrResourceNotFound)))
	assert.Equal(t, CodeMethodNotFound, errorCode(fmt.Errorf("wrap: %w", core.ErrPromptNotFound)))
	assert.Equal(t, CodeInvalidParams, errorCode(fmt.Errorf("wrap: %w", core.ErrInvalidArguments)))
	assert.Equal(t, CodeInternalError, errorCode(errors.New("upstream 500")))
}
