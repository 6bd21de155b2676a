package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent is a stored agent definition.
type Agent struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Description  *string           `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	TopP         *float64          `json:"topP,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// AgentStore provides CRUD operations on the agents table.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

// Create inserts a new agent definition.
func (s *AgentStore) Create(ctx context.Context, agent *Agent) (*Agent, error) {
	agent.ID = uuid.New().String()
	agent.CreatedAt = time.Now().UTC()

	var metadataJSON any
	if len(agent.Metadata) > 0 {
		data, err := json.Marshal(agent.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, model, instructions, description, metadata, temperature, top_p, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Model, agent.Instructions, agent.Description,
		metadataJSON, agent.Temperature, agent.TopP,
		agent.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

// GetByID retrieves an agent by its ID.
func (s *AgentStore) GetByID(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, model, instructions, description, metadata, temperature, top_p, created_at
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// List returns agents ordered newest first, capped at limit when positive.
func (s *AgentStore) List(ctx context.Context, limit int) ([]*Agent, error) {
	query := `SELECT id, name, model, instructions, description, metadata, temperature, top_p, created_at
	          FROM agents ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Count returns the total number of stored agents.
func (s *AgentStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// Delete removes an agent. It returns sql.ErrNoRows when the id is unknown.
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(sc scanner) (*Agent, error) {
	var a Agent
	var description, metadataJSON sql.NullString
	var temperature, topP sql.NullFloat64
	var createdAt string

	err := sc.Scan(&a.ID, &a.Name, &a.Model, &a.Instructions, &description,
		&metadataJSON, &temperature, &topP, &createdAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		v := description.String
		a.Description = &v
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode agent metadata: %w", err)
		}
	}
	if temperature.Valid {
		v := temperature.Float64
		a.Temperature = &v
	}
	if topP.Valid {
		v := topP.Float64
		a.TopP = &v
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
