// ABOUTME: Builtin Zammad tool registrations and their handlers
// ABOUTME: Covers tickets, articles, tags, stats, users, organizations, groups and definitions

package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/zammad-mcp/mcp-zammad/internal/zammad"
)

// ticketValue wraps a ticket for serialization through the Value contract.
type ticketValue struct {
	ticket zammad.Ticket
}

func (v ticketValue) Dump() any {
	return map[string]any{
		"id":         v.ticket.ID,
		"number":     v.ticket.Number,
		"title":      v.ticket.Title,
		"group":      v.ticket.Group,
		"state":      v.ticket.State,
		"priority":   v.ticket.Priority,
		"customer":   v.ticket.Customer,
		"owner":      v.ticket.Owner,
		"created_at": v.ticket.CreatedAt,
		"updated_at": v.ticket.UpdatedAt,
	}
}

// articleValue wraps an article for serialization through the Value contract.
type articleValue struct {
	article zammad.Article
}

func (v articleValue) Dump() any {
	return map[string]any{
		"id":         v.article.ID,
		"ticket_id":  v.article.TicketID,
		"from":       v.article.From,
		"subject":    v.article.Subject,
		"body":       v.article.Body,
		"type":       v.article.Type,
		"internal":   v.article.Internal,
		"sender":     v.article.Sender,
		"created_at": v.article.CreatedAt,
	}
}

// userValue wraps a user for serialization through the Value contract.
type userValue struct {
	user zammad.User
}

func (v userValue) Dump() any {
	return map[string]any{
		"id":        v.user.ID,
		"login":     v.user.Login,
		"firstname": v.user.Firstname,
		"lastname":  v.user.Lastname,
		"email":     v.user.Email,
		"active":    v.user.Active,
	}
}

// ticketDetailValue combines a ticket with its articles.
type ticketDetailValue struct {
	ticket   zammad.Ticket
	articles []zammad.Article
}

func (v ticketDetailValue) Dump() any {
	articles := make([]any, len(v.articles))
	for i, a := range v.articles {
		articles[i] = articleValue{article: a}.Dump()
	}
	return map[string]any{
		"ticket":   ticketValue{ticket: v.ticket}.Dump(),
		"articles": articles,
	}
}

// organizationValue wraps an organization for serialization through the
// Value contract.
type organizationValue struct {
	org zammad.Organization
}

func (v organizationValue) Dump() any {
	return map[string]any{
		"id":     v.org.ID,
		"name":   v.org.Name,
		"domain": v.org.Domain,
		"note":   v.org.Note,
		"active": v.org.Active,
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Server) registerTools() {
	s.registerTool(Tool{
		Name:        "search_tickets",
		Description: "Search tickets with a Zammad full-text query, e.g. `state.name:open` or free text.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Zammad search query"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 25)"},
		}, "query"),
	}, s.toolSearchTickets)

	s.registerTool(Tool{
		Name:        "get_ticket",
		Description: "Fetch a single ticket by ID, optionally including its articles.",
		InputSchema: objectSchema(map[string]any{
			"ticket_id":        map[string]any{"type": "integer"},
			"include_articles": map[string]any{"type": "boolean", "description": "Include the ticket's articles (default true)"},
		}, "ticket_id"),
	}, s.toolGetTicket)

	s.registerTool(Tool{
		Name:        "create_ticket",
		Description: "Create a new ticket with an initial article.",
		InputSchema: objectSchema(map[string]any{
			"title":    map[string]any{"type": "string"},
			"group":    map[string]any{"type": "string", "description": "Group name, e.g. `Users`"},
			"customer": map[string]any{"type": "string", "description": "Customer email or login"},
			"body":     map[string]any{"type": "string", "description": "Body of the initial article"},
		}, "title", "group", "customer", "body"),
	}, s.toolCreateTicket)

	s.registerTool(Tool{
		Name:        "add_article",
		Description: "Append a note or reply to an existing ticket.",
		InputSchema: objectSchema(map[string]any{
			"ticket_id": map[string]any{"type": "integer"},
			"body":      map[string]any{"type": "string"},
			"internal":  map[string]any{"type": "boolean", "description": "Internal note, not visible to the customer (default false)"},
		}, "ticket_id", "body"),
	}, s.toolAddArticle)

	s.registerTool(Tool{
		Name:        "update_ticket",
		Description: "Update attributes of an existing ticket. Only the given fields change.",
		InputSchema: objectSchema(map[string]any{
			"ticket_id": map[string]any{"type": "integer"},
			"title":     map[string]any{"type": "string"},
			"state":     map[string]any{"type": "string", "description": "State name, e.g. `open` or `closed`"},
			"priority":  map[string]any{"type": "string", "description": "Priority name, e.g. `2 normal`"},
			"owner":     map[string]any{"type": "string", "description": "Agent login to assign"},
			"group":     map[string]any{"type": "string"},
		}, "ticket_id"),
	}, s.toolUpdateTicket)

	s.registerTool(Tool{
		Name:        "add_ticket_tag",
		Description: "Attach a tag to a ticket.",
		InputSchema: objectSchema(map[string]any{
			"ticket_id": map[string]any{"type": "integer"},
			"tag":       map[string]any{"type": "string"},
		}, "ticket_id", "tag"),
	}, s.toolAddTicketTag)

	s.registerTool(Tool{
		Name:        "remove_ticket_tag",
		Description: "Detach a tag from a ticket.",
		InputSchema: objectSchema(map[string]any{
			"ticket_id": map[string]any{"type": "integer"},
			"tag":       map[string]any{"type": "string"},
		}, "ticket_id", "tag"),
	}, s.toolRemoveTicketTag)

	s.registerTool(Tool{
		Name:        "get_ticket_stats",
		Description: "Aggregate ticket counts by state, optionally scoped to a group.",
		InputSchema: objectSchema(map[string]any{
			"group": map[string]any{"type": "string", "description": "Restrict counts to this group"},
		}),
	}, s.toolGetTicketStats)

	s.registerTool(Tool{
		Name:        "get_user",
		Description: "Fetch a Zammad user by ID.",
		InputSchema: objectSchema(map[string]any{
			"user_id": map[string]any{"type": "integer"},
		}, "user_id"),
	}, s.toolGetUser)

	s.registerTool(Tool{
		Name:        "search_users",
		Description: "Search users by login, email or name.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 25)"},
		}, "query"),
	}, s.toolSearchUsers)

	s.registerTool(Tool{
		Name:        "get_current_user",
		Description: "Fetch the user the configured API token belongs to.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.toolGetCurrentUser)

	s.registerTool(Tool{
		Name:        "get_organization",
		Description: "Fetch an organization by ID.",
		InputSchema: objectSchema(map[string]any{
			"organization_id": map[string]any{"type": "integer"},
		}, "organization_id"),
	}, s.toolGetOrganization)

	s.registerTool(Tool{
		Name:        "search_organizations",
		Description: "Search organizations by name or domain.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 25)"},
		}, "query"),
	}, s.toolSearchOrganizations)

	s.registerTool(Tool{
		Name:        "list_groups",
		Description: "List all agent groups.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.toolListGroups)

	s.registerTool(Tool{
		Name:        "list_ticket_priorities",
		Description: "List all ticket priority definitions.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.toolListTicketPriorities)

	s.registerTool(Tool{
		Name:        "list_ticket_states",
		Description: "List all ticket state definitions.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.toolListTicketStates)
}

func (s *Server) toolSearchTickets(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := optIntArg(args, "limit", 25)
	if err != nil {
		return nil, err
	}

	tickets, err := s.client.SearchTickets(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching tickets: %w", err)
	}

	results := make([]Value, len(tickets))
	for i, t := range tickets {
		results[i] = ticketValue{ticket: t}
	}
	return results, nil
}

func (s *Server) toolGetTicket(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "ticket_id")
	if err != nil {
		return nil, err
	}
	includeArticles, err := optBoolArg(args, "include_articles", true)
	if err != nil {
		return nil, err
	}

	ticket, err := s.client.GetTicket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching ticket %d: %w", id, err)
	}

	if !includeArticles {
		return ticketValue{ticket: *ticket}, nil
	}

	articles, err := s.client.GetTicketArticles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching articles for ticket %d: %w", id, err)
	}
	return ticketDetailValue{ticket: *ticket, articles: articles}, nil
}

func (s *Server) toolCreateTicket(ctx context.Context, args map[string]any) (any, error) {
	title, err := stringArg(args, "title")
	if err != nil {
		return nil, err
	}
	group, err := stringArg(args, "group")
	if err != nil {
		return nil, err
	}
	customer, err := stringArg(args, "customer")
	if err != nil {
		return nil, err
	}
	body, err := stringArg(args, "body")
	if err != nil {
		return nil, err
	}

	ticket, err := s.client.CreateTicket(ctx, zammad.NewTicket{
		Title:    title,
		Group:    group,
		Customer: customer,
		Article:  zammad.NewArticle{Body: body, Type: "note"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	return ticketValue{ticket: *ticket}, nil
}

func (s *Server) toolAddArticle(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "ticket_id")
	if err != nil {
		return nil, err
	}
	body, err := stringArg(args, "body")
	if err != nil {
		return nil, err
	}
	internal, err := optBoolArg(args, "internal", false)
	if err != nil {
		return nil, err
	}

	article, err := s.client.AddArticle(ctx, zammad.NewArticle{
		TicketID: id,
		Body:     body,
		Type:     "note",
		Internal: internal,
	})
	if err != nil {
		return nil, fmt.Errorf("adding article to ticket %d: %w", id, err)
	}
	return articleValue{article: *article}, nil
}

func (s *Server) toolGetUser(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "user_id")
	if err != nil {
		return nil, err
	}

	user, err := s.client.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching user %d: %w", id, err)
	}
	return userValue{user: *user}, nil
}

func (s *Server) toolUpdateTicket(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "ticket_id")
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	for _, key := range []string{"title", "state", "priority", "owner", "group"} {
		value, err := optStringArg(args, key, "")
		if err != nil {
			return nil, err
		}
		if value != "" {
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidArguments)
	}

	ticket, err := s.client.UpdateTicket(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("updating ticket %d: %w", id, err)
	}
	return ticketValue{ticket: *ticket}, nil
}

func (s *Server) toolAddTicketTag(ctx context.Context, args map[string]any) (any, error) {
	id, tag, err := tagArgs(args)
	if err != nil {
		return nil, err
	}
	if err := s.client.AddTicketTag(ctx, id, tag); err != nil {
		return nil, fmt.Errorf("tagging ticket %d: %w", id, err)
	}
	return map[string]any{"ticket_id": id, "tag": tag, "tagged": true}, nil
}

func (s *Server) toolRemoveTicketTag(ctx context.Context, args map[string]any) (any, error) {
	id, tag, err := tagArgs(args)
	if err != nil {
		return nil, err
	}
	if err := s.client.RemoveTicketTag(ctx, id, tag); err != nil {
		return nil, fmt.Errorf("untagging ticket %d: %w", id, err)
	}
	return map[string]any{"ticket_id": id, "tag": tag, "tagged": false}, nil
}

func tagArgs(args map[string]any) (int, string, error) {
	id, err := intArg(args, "ticket_id")
	if err != nil {
		return 0, "", err
	}
	tag, err := stringArg(args, "tag")
	if err != nil {
		return 0, "", err
	}
	return id, tag, nil
}

// toolGetTicketStats counts tickets by state bucket. Zammad has no stats
// endpoint, so the counts come from a search capped at 100 tickets.
func (s *Server) toolGetTicketStats(ctx context.Context, args map[string]any) (any, error) {
	group, err := optStringArg(args, "group", "")
	if err != nil {
		return nil, err
	}

	query := "*"
	if group != "" {
		query = fmt.Sprintf("group.name:%q", group)
	}
	tickets, err := s.client.SearchTickets(ctx, query, 100)
	if err != nil {
		return nil, fmt.Errorf("searching tickets for stats: %w", err)
	}

	stats := map[string]any{
		"total_count":     len(tickets),
		"open_count":      0,
		"closed_count":    0,
		"pending_count":   0,
		"escalated_count": 0,
	}
	bump := func(key string) { stats[key] = stats[key].(int) + 1 }
	for _, t := range tickets {
		switch {
		case t.State == "new" || t.State == "open":
			bump("open_count")
		case t.State == "closed":
			bump("closed_count")
		case strings.Contains(t.State, "pending"):
			bump("pending_count")
		}
		if t.FirstResponseEscalationAt != "" {
			bump("escalated_count")
		}
	}
	return stats, nil
}

func (s *Server) toolSearchUsers(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := optIntArg(args, "limit", 25)
	if err != nil {
		return nil, err
	}

	users, err := s.client.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}

	results := make([]Value, len(users))
	for i, u := range users {
		results[i] = userValue{user: u}
	}
	return results, nil
}

func (s *Server) toolGetCurrentUser(ctx context.Context, _ map[string]any) (any, error) {
	user, err := s.client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}
	return userValue{user: *user}, nil
}

func (s *Server) toolGetOrganization(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "organization_id")
	if err != nil {
		return nil, err
	}

	org, err := s.client.GetOrganization(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching organization %d: %w", id, err)
	}
	return organizationValue{org: *org}, nil
}

func (s *Server) toolSearchOrganizations(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := optIntArg(args, "limit", 25)
	if err != nil {
		return nil, err
	}

	orgs, err := s.client.SearchOrganizations(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching organizations: %w", err)
	}

	results := make([]Value, len(orgs))
	for i, o := range orgs {
		results[i] = organizationValue{org: o}
	}
	return results, nil
}

func (s *Server) toolListGroups(ctx context.Context, _ map[string]any) (any, error) {
	groups, err := s.client.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	out := make([]map[string]any, len(groups))
	for i, g := range groups {
		out[i] = map[string]any{"id": g.ID, "name": g.Name, "active": g.Active}
	}
	return map[string]any{"groups": out}, nil
}

func (s *Server) toolListTicketPriorities(ctx context.Context, _ map[string]any) (any, error) {
	priorities, err := s.client.ListTicketPriorities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ticket priorities: %w", err)
	}

	out := make([]map[string]any, len(priorities))
	for i, p := range priorities {
		out[i] = map[string]any{"id": p.ID, "name": p.Name, "active": p.Active}
	}
	return map[string]any{"priorities": out}, nil
}

func (s *Server) toolListTicketStates(ctx context.Context, _ map[string]any) (any, error) {
	states, err := s.client.ListTicketStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ticket states: %w", err)
	}

	out := make([]map[string]any, len(states))
	for i, st := range states {
		out[i] = map[string]any{"id": st.ID, "name": st.Name, "active": st.Active}
	}
	return map[string]any{"states": out}, nil
}
