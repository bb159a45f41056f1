// ABOUTME: Builtin resource registrations backed by the Zammad API
// ABOUTME: Exposes the open-ticket queue and per-ticket detail resources

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zammad-mcp/mcp-zammad/internal/uritemplate"
)

const (
	queueURI          = "zammad://queue"
	ticketURITemplate = "zammad://ticket/{ticket_id}"
)

// matchResource resolves uri against a registry pattern, returning the
// extracted template parameters when it matches.
func matchResource(uri, pattern string) (map[string]string, bool) {
	if !uritemplate.Matches(uri, pattern) {
		return nil, false
	}
	return uritemplate.Extract(uri, pattern), true
}

func (s *Server) registerResources() {
	s.registerResource(Resource{
		URI:         queueURI,
		Name:        "Open ticket queue",
		Description: "All tickets currently in the open state.",
		MimeType:    "application/json",
	}, queueURI, s.resourceQueue)

	s.registerResource(Resource{
		URI:         ticketURITemplate,
		Name:        "Ticket detail",
		Description: "A single ticket with its articles, addressed by ticket ID.",
		MimeType:    "application/json",
	}, ticketURITemplate, s.resourceTicket)
}

func (s *Server) resourceQueue(ctx context.Context, _ string, _ map[string]string) (*ResourceContent, error) {
	tickets, err := s.client.SearchTickets(ctx, "state.name:open", 50)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}

	entries := make([]any, len(tickets))
	for i, t := range tickets {
		entries[i] = ticketValue{ticket: t}.Dump()
	}
	text, err := json.Marshal(map[string]any{"tickets": entries})
	if err != nil {
		return nil, fmt.Errorf("encoding queue: %w", err)
	}

	return &ResourceContent{MimeType: "application/json", Text: string(text)}, nil
}

func (s *Server) resourceTicket(ctx context.Context, uri string, params map[string]string) (*ResourceContent, error) {
	raw := params["ticket_id"]
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ticket id in %s", ErrResourceNotFound, uri)
	}

	ticket, err := s.client.GetTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading ticket %d: %w", id, err)
	}
	articles, err := s.client.GetTicketArticles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading articles for ticket %d: %w", id, err)
	}

	text, err := json.Marshal(ticketDetailValue{ticket: *ticket, articles: articles}.Dump())
	if err != nil {
		return nil, fmt.Errorf("encoding ticket %d: %w", id, err)
	}
	return &ResourceContent{MimeType: "application/json", Text: string(text)}, nil
}
