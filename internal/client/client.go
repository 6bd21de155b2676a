package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentchat/internal/sse"
	"agentchat/internal/stream"
)

// AgentInfo is the server's default persona, from GET /v1/agent.
type AgentInfo struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Model          string   `json:"model"`
	StarterPrompts []string `json:"starterPrompts,omitempty"`
}

// Agent is a stored agent definition, from the agents API.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Model        string     `json:"model"`
	Instructions string     `json:"instructions,omitempty"`
	Description  *string    `json:"description,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

// AgentList is the response of GET /v1/agents.
type AgentList struct {
	Agents     []Agent `json:"agents"`
	TotalCount int     `json:"totalCount"`
}

// CreateAgentRequest is the body for POST /v1/agents.
type CreateAgentRequest struct {
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Description  *string           `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	TopP         *float64          `json:"topP,omitempty"`
}

// Client is an HTTP client for the agentchat API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client. No client-side timeout is applied so
// chat streams can run as long as the server allows; pass a cancellable
// context to bound individual calls.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// StreamTurn sends a turn request and returns the decoded event channel. The
// channel closes when the stream ends or ctx is cancelled.
func (c *Client) StreamTurn(ctx context.Context, req stream.TurnRequest) (<-chan sse.Event, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromResponse(resp)
	}

	events := sse.Stream(ctx, resp.Body, c.logger)
	out := make(chan sse.Event)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// DefaultAgent fetches the server's default persona.
func (c *Client) DefaultAgent(ctx context.Context) (*AgentInfo, error) {
	var info AgentInfo
	if err := c.getJSON(ctx, "/v1/agent", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListAgents fetches stored agents, capped at limit when positive.
func (c *Client) ListAgents(ctx context.Context, limit int) (*AgentList, error) {
	path := "/v1/agents"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var list AgentList
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateAgent stores a new agent definition.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.errorFromResponse(resp)
	}
	var created Agent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("parse agent response: %w", err)
	}
	return &created, nil
}

// DeleteAgent removes a stored agent.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/agents/"+id, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("api error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
