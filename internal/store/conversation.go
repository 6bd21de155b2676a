package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentchat/internal/stream"
)

// Conversation is a logical chat thread. LastResponseID points at the most
// recent continuation token issued for it, if any.
type Conversation struct {
	ID             string    `json:"id"`
	AgentID        *string   `json:"agentId,omitempty"`
	Title          string    `json:"title"`
	LastResponseID *string   `json:"lastResponseId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is one persisted conversation entry.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	Seq            int                 `json:"seq"`
	Role           string              `json:"role"`
	Content        string              `json:"content"`
	Annotations    []stream.Annotation `json:"annotations,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// titleMaxLen caps conversation titles seeded from the first message.
const titleMaxLen = 80

// ConversationStore provides CRUD operations on conversations and messages.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a new ConversationStore.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// DB returns the underlying database connection.
func (s *ConversationStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new conversation titled from seed (the first user
// message), truncated to a display-friendly length.
func (s *ConversationStore) Create(ctx context.Context, seed string, agentID string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		Title:     seedTitle(seed),
		UpdatedAt: now,
		CreatedAt: now,
	}
	if agentID != "" {
		conv.AgentID = &agentID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent_id, title, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.AgentID, conv.Title,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetByID retrieves a conversation by its ID.
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, title, last_response_id, updated_at, created_at
		 FROM conversations WHERE id = ?`, id)

	var c Conversation
	var agentID, lastResponseID sql.NullString
	var updatedAt, createdAt string
	err := row.Scan(&c.ID, &agentID, &c.Title, &lastResponseID, &updatedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if agentID.Valid {
		v := agentID.String
		c.AgentID = &v
	}
	if lastResponseID.Valid {
		v := lastResponseID.String
		c.LastResponseID = &v
	}
	c.UpdatedAt = parseTime(updatedAt)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// SetLastResponseID records the continuation token most recently issued for
// the conversation.
func (s *ConversationStore) SetLastResponseID(ctx context.Context, id, responseID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_response_id = ?, updated_at = ? WHERE id = ?`,
		responseID, now, id)
	if err != nil {
		return fmt.Errorf("update last response id: %w", err)
	}
	return nil
}

// AppendMessage appends a message to the conversation history.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, role, content string, annotations []stream.Annotation) (*Message, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Seq:            seq + 1,
		Role:           role,
		Content:        content,
		Annotations:    annotations,
		CreatedAt:      now,
	}

	var annotationsJSON any
	if len(annotations) > 0 {
		data, err := json.Marshal(annotations)
		if err != nil {
			return nil, fmt.Errorf("encode annotations: %w", err)
		}
		annotationsJSON = string(data)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, annotations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Seq, msg.Role, msg.Content,
		annotationsJSON, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

// History returns the conversation's messages in append order.
func (s *ConversationStore) History(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, seq, role, content, annotations, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var annotationsJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &annotationsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if annotationsJSON.Valid && annotationsJSON.String != "" {
			if err := json.Unmarshal([]byte(annotationsJSON.String), &m.Annotations); err != nil {
				return nil, fmt.Errorf("decode annotations: %w", err)
			}
		}
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func seedTitle(seed string) string {
	title := strings.TrimSpace(seed)
	if title == "" {
		return "New conversation"
	}
	if len(title) > titleMaxLen {
		title = strings.TrimSpace(title[:titleMaxLen]) + "..."
	}
	return title
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
