// ABOUTME: Method-string routing for the MCP HTTP gateway
// ABOUTME: Parses method names into tagged request kinds with extracted targets

package gateway

import (
	"errors"
	"strings"
)

// Request is the JSON body accepted by /mcp/call and /mcp/stream.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the envelope returned by /mcp/call. Exactly one of Result and
// Error is set.
type Response struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the error half of the response envelope, using JSON-RPC
// style negative codes.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC style error codes used in envelopes and error events.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Routing errors, distinct from capability failures.
var (
	// ErrMethodNotFound is returned for method strings outside the fixed set.
	ErrMethodNotFound = errors.New("method not found")

	// ErrMissingToolName is returned when tools/call params lack "name".
	// This is a malformed request, not an unknown method.
	ErrMissingToolName = errors.New(`missing "name" parameter in tools/call`)
)

// methodKind enumerates the capabilities a method string can resolve to.
type methodKind int

const (
	kindUnknown methodKind = iota
	kindToolsList
	kindResourcesList
	kindPromptsList
	kindToolsCall
	kindToolsCallLegacy // tools/call/<name>, unary endpoint only
	kindResourcesRead
	kindPromptsGet
)

// methodCall is the parsed form of a method string: the resolved kind plus
// the target extracted from a dynamic suffix (tool name, resource URI, or
// prompt name).
type methodCall struct {
	kind   methodKind
	target string
}

// Method prefixes for the dynamic forms. The URI or name remainder is taken
// byte-for-byte: no URL decoding is applied, and query strings stay part of
// the resource URI.
const (
	prefixResourcesRead = "resources/read/"
	prefixPromptsGet    = "prompts/get/"
	prefixToolsCall     = "tools/call/"
)

// parseMethod resolves a method string into a tagged call. Literals are
// checked before prefixes and prefixes in fixed order; the first match wins.
// Kinds the calling endpoint does not support (the legacy tools/call form on
// the stream endpoint) are rejected by the caller, not here.
func parseMethod(method string) methodCall {
	switch method {
	case "tools/list":
		return methodCall{kind: kindToolsList}
	case "resources/list":
		return methodCall{kind: kindResourcesList}
	case "prompts/list":
		return methodCall{kind: kindPromptsList}
	case "tools/call":
		return methodCall{kind: kindToolsCall}
	}

	switch {
	case strings.HasPrefix(method, prefixResourcesRead):
		return methodCall{kind: kindResourcesRead, target: strings.TrimPrefix(method, prefixResourcesRead)}
	case strings.HasPrefix(method, prefixPromptsGet):
		return methodCall{kind: kindPromptsGet, target: strings.TrimPrefix(method, prefixPromptsGet)}
	case strings.HasPrefix(method, prefixToolsCall):
		return methodCall{kind: kindToolsCallLegacy, target: strings.TrimPrefix(method, prefixToolsCall)}
	}

	return methodCall{kind: kindUnknown}
}

// toolCallParams extracts the tool name and arguments from tools/call params.
func toolCallParams(params map[string]any) (name string, args map[string]any, err error) {
	rawName, ok := params["name"]
	if !ok {
		return "", nil, ErrMissingToolName
	}
	name, ok = rawName.(string)
	if !ok || name == "" {
		return "", nil, ErrMissingToolName
	}

	args = map[string]any{}
	if rawArgs, ok := params["arguments"]; ok {
		if m, ok := rawArgs.(map[string]any); ok {
			args = m
		}
	}
	return name, args, nil
}
