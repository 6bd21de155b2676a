package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Approval status values.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// ErrApprovalNotPending is returned when resolving an approval that was
// already resolved or never existed.
var ErrApprovalNotPending = errors.New("approval not pending")

// Approval is a suspended tool call waiting on a user decision. The
// transcript column holds the turn state needed to resume the stream.
type Approval struct {
	ID             string
	ConversationID string
	ToolName       string
	ServerLabel    string
	Arguments      string
	ToolCallID     string
	Transcript     json.RawMessage
	Status         string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// ApprovalStore persists pending tool approvals.
type ApprovalStore struct {
	db *sql.DB
}

// NewApprovalStore creates a new ApprovalStore.
func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

// CreatePending records a suspended tool call under the given id.
func (s *ApprovalStore) CreatePending(ctx context.Context, a *Approval) error {
	a.Status = ApprovalPending
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, conversation_id, tool_name, server_label, arguments, tool_call_id, transcript, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.ToolName, a.ServerLabel, a.Arguments,
		a.ToolCallID, string(a.Transcript), a.Status,
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// GetPending retrieves an unresolved approval by id. It returns
// sql.ErrNoRows when the id is unknown or already resolved.
func (s *ApprovalStore) GetPending(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, tool_name, server_label, arguments, tool_call_id, transcript, status, resolved_at, created_at
		 FROM approvals WHERE id = ? AND status = ?`, id, ApprovalPending)

	var a Approval
	var transcript string
	var resolvedAt sql.NullString
	var createdAt string
	err := row.Scan(&a.ID, &a.ConversationID, &a.ToolName, &a.ServerLabel,
		&a.Arguments, &a.ToolCallID, &transcript, &a.Status, &resolvedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	a.Transcript = json.RawMessage(transcript)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		a.ResolvedAt = &t
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// Resolve marks a pending approval as approved or denied.
func (s *ApprovalStore) Resolve(ctx context.Context, id string, approved bool) error {
	status := ApprovalDenied
	if approved {
		status = ApprovalApproved
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id, ApprovalPending)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n == 0 {
		return ErrApprovalNotPending
	}
	return nil
}
