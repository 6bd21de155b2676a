package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agentchat/internal/store"
)

// CreateAgentRequest is the JSON body for POST /v1/agents.
type CreateAgentRequest struct {
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Description  *string           `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	TopP         *float64          `json:"topP,omitempty"`
}

// AgentSummary is one entry of the agent list.
type AgentSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AgentListResponse is returned by GET /v1/agents.
type AgentListResponse struct {
	Agents     []AgentSummary `json:"agents"`
	TotalCount int            `json:"totalCount"`
}

// DefaultAgentResponse is returned by GET /v1/agent.
type DefaultAgentResponse struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Model          string   `json:"model"`
	StarterPrompts []string `json:"starterPrompts,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleDefaultAgent handles GET /v1/agent, the configured default persona.
func (s *Server) handleDefaultAgent(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, DefaultAgentResponse{
		Name:           s.agentCfg.Name,
		Description:    s.agentCfg.Description,
		Model:          s.modelName,
		StarterPrompts: s.agentCfg.StarterPrompts,
	})
}

// handleCreateAgent handles POST /v1/agents.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.Instructions == "" {
		s.writeError(w, http.StatusBadRequest, "instructions is required")
		return
	}

	created, err := s.agents.Create(r.Context(), &store.Agent{
		Name:         req.Name,
		Model:        req.Model,
		Instructions: req.Instructions,
		Description:  req.Description,
		Metadata:     req.Metadata,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
	})
	if err != nil {
		s.logger.Error("failed to create agent", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	s.logger.Info("agent created", "agent_id", created.ID, "name", created.Name)
	w.Header().Set("Location", "/v1/agents/"+created.ID)
	respondJSON(w, http.StatusCreated, created)
}

// handleListAgents handles GET /v1/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	agents, err := s.agents.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list agents", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	total, err := s.agents.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count agents", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	summaries := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, AgentSummary{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Model:       a.Model,
			CreatedAt:   a.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, AgentListResponse{Agents: summaries, TotalCount: total})
}

// handleGetAgent handles GET /v1/agents/{agent_id}.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	a, err := s.agents.GetByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to get agent", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// handleDeleteAgent handles DELETE /v1/agents/{agent_id}.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	if err := s.agents.Delete(r.Context(), agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to delete agent", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}

	s.logger.Info("agent deleted", "agent_id", agentID)
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
