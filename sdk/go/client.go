// Package agentfloorsdk is a minimal client for the Agentfloor HTTP API,
// meant to be embedded in Dev Apps that report agent activity.
package agentfloorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Agentfloor server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Company is the API company model.
type Company struct {
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Agent is the API agent model.
type Agent struct {
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	Status       string  `json:"status"`
	CurrentTask  *string `json:"current_task,omitempty"`
	PositionZone string  `json:"position_zone"`
}

// AgentSeed describes one agent to create with a company.
type AgentSeed struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
}

// Movement is one pending walk animation.
type Movement struct {
	MovementID string  `json:"movement_id"`
	AgentID    string  `json:"agent_id"`
	FromZone   string  `json:"from_zone"`
	ToZone     string  `json:"to_zone"`
	Purpose    string  `json:"purpose"`
	Artifact   *string `json:"artifact,omitempty"`
	Progress   float64 `json:"progress"`
}

// RoleConfig is the styling for one role.
type RoleConfig struct {
	RoleID      string `json:"role_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	ZoneColor   string `json:"zone_color"`
	IsDefault   bool   `json:"is_default"`
}

// CompanyState is the polling snapshot.
type CompanyState struct {
	Company          Company               `json:"company"`
	Agents           []Agent               `json:"agents"`
	PendingMovements []Movement            `json:"pending_movements"`
	RoleConfigs      map[string]RoleConfig `json:"role_configs"`
	LastUpdated      string                `json:"last_updated"`
}

// EventAccepted is the acknowledgement for an ingested event.
type EventAccepted struct {
	EventID         string   `json:"event_id"`
	Timestamp       string   `json:"timestamp"`
	Status          string   `json:"status"`
	InferredActions []string `json:"inferred_actions"`
}

// LogEntry is one activity log row.
type LogEntry struct {
	EventID         string         `json:"event_id"`
	FromAgent       *string        `json:"from_agent,omitempty"`
	ToAgent         *string        `json:"to_agent,omitempty"`
	EventType       string         `json:"event_type"`
	Payload         map[string]any `json:"payload"`
	InferredActions []string       `json:"inferred_actions"`
	Timestamp       string         `json:"timestamp"`
}

// Logs is one page of the activity log.
type Logs struct {
	Logs    []LogEntry `json:"logs"`
	Total   int        `json:"total"`
	HasMore bool       `json:"has_more"`
}

// LogFilters narrow a Logs call. Zero values are omitted.
type LogFilters struct {
	AgentID   string
	EventType string
	Limit     int
	Offset    int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCompany registers a company with its initial agents.
func (c *Client) CreateCompany(ctx context.Context, name string, agents []AgentSeed) (Company, error) {
	body := map[string]any{
		"name":   name,
		"agents": agents,
	}
	var resp Company
	err := c.do(ctx, http.MethodPost, "v0/companies", body, &resp)
	return resp, err
}

// CreateAgent adds one agent to a company.
func (c *Client) CreateAgent(ctx context.Context, companyID string, seed AgentSeed) (Agent, error) {
	var resp Agent
	endpoint := fmt.Sprintf("v0/companies/%s/agents", url.PathEscape(companyID))
	err := c.do(ctx, http.MethodPost, endpoint, seed, &resp)
	return resp, err
}

// SendEvent reports one business event. toAgent and payload may be empty.
func (c *Client) SendEvent(ctx context.Context, companyID, agentID, eventType, toAgent string, payload map[string]any) (EventAccepted, error) {
	body := map[string]any{
		"company_id": companyID,
		"agent_id":   agentID,
		"event_type": eventType,
	}
	if toAgent != "" {
		body["to_agent"] = toAgent
	}
	if payload != nil {
		body["payload"] = payload
	}
	var resp EventAccepted
	err := c.do(ctx, http.MethodPost, "v0/events", body, &resp)
	return resp, err
}

// State fetches the polling snapshot for a company.
func (c *Client) State(ctx context.Context, companyID string) (CompanyState, error) {
	var resp CompanyState
	endpoint := fmt.Sprintf("v0/companies/%s/state", url.PathEscape(companyID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Logs fetches a filtered page of the activity log.
func (c *Client) Logs(ctx context.Context, companyID string, f LogFilters) (Logs, error) {
	q := url.Values{}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	if f.EventType != "" {
		q.Set("event_type", f.EventType)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", f.Offset))
	}
	endpoint := fmt.Sprintf("v0/companies/%s/logs", url.PathEscape(companyID))
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp Logs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateProgress reports animation progress for a movement.
func (c *Client) UpdateProgress(ctx context.Context, movementID string, progress float64) error {
	body := map[string]any{"progress": progress}
	endpoint := fmt.Sprintf("v0/movements/%s/progress", url.PathEscape(movementID))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// CompleteMovement finalizes a movement.
func (c *Client) CompleteMovement(ctx context.Context, movementID string) error {
	endpoint := fmt.Sprintf("v0/movements/%s/complete", url.PathEscape(movementID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// CleanupMovements deletes completed movements and returns how many.
func (c *Client) CleanupMovements(ctx context.Context, companyID string) (int, error) {
	var resp struct {
		DeletedCount int `json:"deleted_count"`
	}
	endpoint := fmt.Sprintf("v0/companies/%s/movements/cleanup", url.PathEscape(companyID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.DeletedCount, err
}

// Roles fetches the full role styling table.
func (c *Client) Roles(ctx context.Context) ([]RoleConfig, error) {
	var resp []RoleConfig
	err := c.do(ctx, http.MethodGet, "v0/roles", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
