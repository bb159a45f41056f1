// ABOUTME: REST client for the Zammad ticketing API
// ABOUTME: Provides typed ticket, article, user and state operations over HTTP

package zammad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is returned when Zammad answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zammad: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is an APIError with a 404 status.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Ticket is a Zammad ticket as returned with expand=true.
type Ticket struct {
	ID         int    `json:"id"`
	Number     string `json:"number"`
	Title      string `json:"title"`
	Group      string `json:"group"`
	State      string `json:"state"`
	Priority   string `json:"priority"`
	Customer   string `json:"customer"`
	Owner      string `json:"owner"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	ArticleIDs []int  `json:"article_ids,omitempty"`

	FirstResponseEscalationAt string `json:"first_response_escalation_at,omitempty"`
}

// Article is a single communication entry on a ticket.
type Article struct {
	ID        int    `json:"id"`
	TicketID  int    `json:"ticket_id"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Internal  bool   `json:"internal"`
	Sender    string `json:"sender"`
	CreatedAt string `json:"created_at"`
}

// User is a Zammad user account.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`
}

// State is a ticket state definition.
type State struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Priority is a ticket priority definition.
type Priority struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Group is an agent group.
type Group struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Organization is a Zammad organization.
type Organization struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	Note   string `json:"note,omitempty"`
	Active bool   `json:"active"`
}

// NewTicket is the payload for creating a ticket with an initial article.
type NewTicket struct {
	Title    string     `json:"title"`
	Group    string     `json:"group"`
	Customer string     `json:"customer"`
	Article  NewArticle `json:"article"`
}

// NewArticle is the payload for adding an article to a ticket.
type NewArticle struct {
	TicketID int    `json:"ticket_id,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	Type     string `json:"type,omitempty"`
	Internal bool   `json:"internal"`
}

// Client talks to a Zammad instance using token authentication.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Zammad API client for the given base URL and access token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Me returns the user the configured token belongs to.
// Used as a connectivity and credential check at startup.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/v1/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser returns a single user by ID.
func (c *Client) GetUser(ctx context.Context, id int) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/v1/users/"+strconv.Itoa(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchTickets runs a full-text ticket search.
func (c *Client) SearchTickets(ctx context.Context, query string, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 25
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("expand", "true")

	var tickets []Ticket
	if err := c.get(ctx, "/api/v1/tickets/search", q, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket returns a single ticket by ID.
func (c *Client) GetTicket(ctx context.Context, id int) (*Ticket, error) {
	q := url.Values{}
	q.Set("expand", "true")

	var ticket Ticket
	if err := c.get(ctx, "/api/v1/tickets/"+strconv.Itoa(id), q, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketArticles returns all articles of a ticket, oldest first.
func (c *Client) GetTicketArticles(ctx context.Context, ticketID int) ([]Article, error) {
	var articles []Article
	if err := c.get(ctx, "/api/v1/ticket_articles/by_ticket/"+strconv.Itoa(ticketID), nil, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

// CreateTicket creates a new ticket with its initial article.
func (c *Client) CreateTicket(ctx context.Context, ticket NewTicket) (*Ticket, error) {
	var created Ticket
	if err := c.post(ctx, "/api/v1/tickets", ticket, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// AddArticle appends an article to an existing ticket.
func (c *Client) AddArticle(ctx context.Context, article NewArticle) (*Article, error) {
	var created Article
	if err := c.post(ctx, "/api/v1/ticket_articles", article, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTicket changes attributes of an existing ticket. Only the
// keys present in fields are sent, so untouched attributes keep their
// server-side values.
func (c *Client) UpdateTicket(ctx context.Context, id int, fields map[string]any) (*Ticket, error) {
	q := url.Values{}
	q.Set("expand", "true")

	var updated Ticket
	if err := c.do(ctx, http.MethodPut, "/api/v1/tickets/"+strconv.Itoa(id), q, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SearchUsers runs a full-text user search.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 25
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))

	var users []User
	if err := c.get(ctx, "/api/v1/users/search", q, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetOrganization returns a single organization by ID.
func (c *Client) GetOrganization(ctx context.Context, id int) (*Organization, error) {
	var org Organization
	if err := c.get(ctx, "/api/v1/organizations/"+strconv.Itoa(id), nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// SearchOrganizations runs a full-text organization search.
func (c *Client) SearchOrganizations(ctx context.Context, query string, limit int) ([]Organization, error) {
	if limit <= 0 {
		limit = 25
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))

	var orgs []Organization
	if err := c.get(ctx, "/api/v1/organizations/search", q, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// ListGroups returns all agent groups.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.get(ctx, "/api/v1/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListTicketPriorities returns all ticket priority definitions.
func (c *Client) ListTicketPriorities(ctx context.Context) ([]Priority, error) {
	var priorities []Priority
	if err := c.get(ctx, "/api/v1/ticket_priorities", nil, &priorities); err != nil {
		return nil, err
	}
	return priorities, nil
}

// AddTicketTag attaches a tag to a ticket.
func (c *Client) AddTicketTag(ctx context.Context, ticketID int, tag string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tags/add", tagQuery(ticketID, tag), nil, nil)
}

// RemoveTicketTag detaches a tag from a ticket.
func (c *Client) RemoveTicketTag(ctx context.Context, ticketID int, tag string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tags/remove", tagQuery(ticketID, tag), nil, nil)
}

func tagQuery(ticketID int, tag string) url.Values {
	q := url.Values{}
	q.Set("object", "Ticket")
	q.Set("o_id", strconv.Itoa(ticketID))
	q.Set("item", tag)
	return q
}

// ListTicketStates returns all ticket state definitions.
func (c *Client) ListTicketStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/v1/ticket_states", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token token="+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling zammad: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field from a Zammad error body,
// falling back to the raw body text.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}

	var parsed struct {
		Error      string `json:"error"`
		ErrorHuman string `json:"error_human"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.ErrorHuman != "" {
			return parsed.ErrorHuman
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(data))
}
