// ABOUTME: Human-readable capability catalog served at /catalog
// ABOUTME: Renders the tool, resource and prompt registries as an HTML page

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
)

const catalogPageShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>mcp-zammad catalog</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
code { background: #f0f0f0; padding: 0.1rem 0.3rem; border-radius: 3px; }
</style>
</head>
<body>
%s
</body>
</html>`

// handleCatalog serves a rendered overview of everything the gateway exposes.
func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	md, err := g.catalogMarkdown(r.Context())
	if err != nil {
		g.logger.Error("failed to build catalog", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		g.logger.Error("failed to render catalog", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, catalogPageShell, buf.String())
}

// catalogMarkdown assembles the catalog page source from the core registries.
func (g *Gateway) catalogMarkdown(ctx context.Context) (string, error) {
	tools, err := g.core.ListTools(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tools: %w", err)
	}
	resources, err := g.core.ListResources(ctx)
	if err != nil {
		return "", fmt.Errorf("listing resources: %w", err)
	}
	prompts, err := g.core.ListPrompts(ctx)
	if err != nil {
		return "", fmt.Errorf("listing prompts: %w", err)
	}

	var b strings.Builder
	b.WriteString("# mcp-zammad\n\n")
	b.WriteString("Capabilities exposed by this gateway. Invoke them through ")
	b.WriteString("`POST /mcp/call` or `POST /mcp/stream`.\n\n")

	b.WriteString("## Tools\n\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- `%s`: %s\n", t.Name, t.Description)
	}

	b.WriteString("\n## Resources\n\n")
	for _, r := range resources {
		fmt.Fprintf(&b, "- `%s` (%s): %s\n", r.URI, r.Name, r.Description)
	}

	b.WriteString("\n## Prompts\n\n")
	for _, p := range prompts {
		names := make([]string, len(p.Arguments))
		for i, a := range p.Arguments {
			names[i] = a.Name
			if a.Required {
				names[i] += "*"
			}
		}
		fmt.Fprintf(&b, "- `%s(%s)`: %s\n", p.Name, strings.Join(names, ", "), p.Description)
	}

	return b.String(), nil
}
