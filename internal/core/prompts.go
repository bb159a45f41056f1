// ABOUTME: Builtin prompt registrations for ticket workflows
// ABOUTME: Renders analysis, response-draft and escalation prompts from live ticket data

package core

import (
	"context"
	"fmt"
	"strings"
)

// promptValue is the rendered form of a prompt: a description plus a list of
// chat messages ready for a model.
type promptValue struct {
	description string
	messages    []promptMessage
}

type promptMessage struct {
	role string
	text string
}

func (v promptValue) Dump() any {
	messages := make([]any, len(v.messages))
	for i, m := range v.messages {
		messages[i] = map[string]any{
			"role": m.role,
			"content": map[string]any{
				"type": "text",
				"text": m.text,
			},
		}
	}
	return map[string]any{
		"description": v.description,
		"messages":    messages,
	}
}

func (s *Server) registerPrompts() {
	s.registerPrompt(Prompt{
		Name:        "analyze_ticket",
		Description: "Analyze a ticket's history, current state and recommended next steps.",
		Arguments: []PromptArgument{
			{Name: "ticket_id", Description: "ID of the ticket to analyze", Required: true},
		},
	}, s.promptAnalyzeTicket)

	s.registerPrompt(Prompt{
		Name:        "draft_response",
		Description: "Draft a customer response for a ticket.",
		Arguments: []PromptArgument{
			{Name: "ticket_id", Description: "ID of the ticket to respond to", Required: true},
			{Name: "tone", Description: "Desired tone, e.g. formal or friendly", Required: false},
		},
	}, s.promptDraftResponse)

	s.registerPrompt(Prompt{
		Name:        "escalation_summary",
		Description: "Summarize a ticket for handing off to a senior agent.",
		Arguments: []PromptArgument{
			{Name: "ticket_id", Description: "ID of the ticket being escalated", Required: true},
		},
	}, s.promptEscalationSummary)
}

// ticketTranscript renders a ticket and its articles as plain text for
// embedding in prompt messages.
func (s *Server) ticketTranscript(ctx context.Context, args map[string]any) (string, error) {
	id, err := intArg(args, "ticket_id")
	if err != nil {
		return "", err
	}

	ticket, err := s.client.GetTicket(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetching ticket %d: %w", id, err)
	}
	articles, err := s.client.GetTicketArticles(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetching articles for ticket %d: %w", id, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%s: %s\n", ticket.Number, ticket.Title)
	fmt.Fprintf(&b, "State: %s | Priority: %s | Customer: %s\n\n", ticket.State, ticket.Priority, ticket.Customer)
	for _, a := range articles {
		fmt.Fprintf(&b, "--- %s (%s, %s)\n%s\n\n", a.From, a.Sender, a.CreatedAt, a.Body)
	}
	return b.String(), nil
}

func (s *Server) promptAnalyzeTicket(ctx context.Context, args map[string]any) (any, error) {
	transcript, err := s.ticketTranscript(ctx, args)
	if err != nil {
		return nil, err
	}

	return promptValue{
		description: "Analyze the ticket below.",
		messages: []promptMessage{
			{
				role: "user",
				text: "Analyze the following support ticket. Describe the customer's problem, " +
					"what has been tried so far, the current state, and recommend the next steps.\n\n" + transcript,
			},
		},
	}, nil
}

func (s *Server) promptDraftResponse(ctx context.Context, args map[string]any) (any, error) {
	tone, err := optStringArg(args, "tone", "professional")
	if err != nil {
		return nil, err
	}
	transcript, err := s.ticketTranscript(ctx, args)
	if err != nil {
		return nil, err
	}

	return promptValue{
		description: "Draft a response to the customer on this ticket.",
		messages: []promptMessage{
			{
				role: "user",
				text: fmt.Sprintf("Draft a %s response to the customer for the ticket below. "+
					"Address their latest message directly.\n\n%s", tone, transcript),
			},
		},
	}, nil
}

func (s *Server) promptEscalationSummary(ctx context.Context, args map[string]any) (any, error) {
	transcript, err := s.ticketTranscript(ctx, args)
	if err != nil {
		return nil, err
	}

	return promptValue{
		description: "Summarize this ticket for escalation.",
		messages: []promptMessage{
			{
				role: "user",
				text: "Write an escalation summary for the ticket below, for a senior agent taking " +
					"over. Cover the timeline, what blocked resolution, the customer's urgency, " +
					"and what the next owner must do first.\n\n" + transcript,
			},
		},
	}, nil
}
