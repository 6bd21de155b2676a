// Package chat holds the client-side conversation state machine. A Session is
// the single source of truth for the conversation view: it folds decoded
// stream events into an ordered item list, tracks which assistant message is
// open for mutation, and gates sends while a turn is in flight.
package chat

import (
	"errors"

	"github.com/google/uuid"

	"agentchat/internal/sse"
	"agentchat/internal/stream"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Role discriminates conversation items.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleApproval  Role = "approval"
)

var (
	ErrBusy         = errors.New("a turn is already in flight")
	ErrNotStreaming = errors.New("no stream to cancel")
	ErrNoApproval   = errors.New("no matching unresolved approval")
)

// ApprovalCard is a pending tool-approval decision surfaced to the user.
// PreviousResponseID is the continuation token used to resume the turn.
type ApprovalCard struct {
	ID                 string
	ToolName           string
	ServerLabel        string
	Arguments          string
	PreviousResponseID string
	Resolved           bool
}

// Item is one entry of the conversation history. Exactly one assistant item
// may be open for mutation at a time; its ID is the session's streaming id.
type Item struct {
	ID          string
	Role        Role
	Text        string
	Attachments []stream.FileAttachment
	Images      []string
	Annotations []stream.Annotation
	Approval    *ApprovalCard
}

// Session is the chat state machine. It is not safe for concurrent use; the
// owner drives it from a single loop (the UI event loop).
type Session struct {
	status         Status
	items          []*Item
	streamingID    string
	conversationID string
	lastError      string
	agentID        string
	lastUsage      *stream.Usage
}

// NewSession creates an idle session. agentID optionally overrides which
// agent handles turns.
func NewSession(agentID string) *Session {
	return &Session{status: StatusIdle, agentID: agentID}
}

func (s *Session) Status() Status             { return s.status }
func (s *Session) ConversationID() string     { return s.conversationID }
func (s *Session) StreamingMessageID() string { return s.streamingID }
func (s *Session) LastError() string          { return s.lastError }
func (s *Session) LastUsage() *stream.Usage   { return s.lastUsage }

// Items returns the conversation history in order. The returned slice is the
// session's own; callers must not mutate it.
func (s *Session) Items() []*Item { return s.items }

// Send starts a new turn: appends the user message, opens an empty assistant
// message as the streaming target, and returns the request to issue. Legal
// from Idle; from Error it dismisses the previous error first. A pending
// unresolved approval also blocks sending.
func (s *Session) Send(text string, images []string, files []stream.FileAttachment) (stream.TurnRequest, error) {
	if s.status == StatusSending || s.status == StatusStreaming {
		return stream.TurnRequest{}, ErrBusy
	}
	if s.pendingApproval() != nil {
		return stream.TurnRequest{}, ErrBusy
	}
	s.lastError = ""

	s.items = append(s.items, &Item{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Text:        text,
		Images:      images,
		Attachments: files,
	})
	s.openAssistant()
	s.status = StatusSending

	return stream.TurnRequest{
		Message:        text,
		ConversationID: s.conversationID,
		Images:         images,
		Files:          files,
		AgentID:        s.agentID,
	}, nil
}

// RespondToApproval resolves the pending approval card and returns the resume
// request carrying the continuation token. Legal from Idle with an unresolved
// card whose ID matches; otherwise the state is unchanged.
func (s *Session) RespondToApproval(approvalRequestID string, approved bool) (stream.TurnRequest, error) {
	if s.status == StatusSending || s.status == StatusStreaming {
		return stream.TurnRequest{}, ErrBusy
	}
	card := s.pendingApproval()
	if card == nil || card.ID != approvalRequestID {
		return stream.TurnRequest{}, ErrNoApproval
	}
	card.Resolved = true
	s.lastError = ""

	s.openAssistant()
	s.status = StatusSending

	return stream.TurnRequest{
		ConversationID:     s.conversationID,
		PreviousResponseID: card.PreviousResponseID,
		McpApproval: &stream.ApprovalDecision{
			ApprovalRequestID: card.ID,
			Approved:          approved,
		},
		AgentID: s.agentID,
	}, nil
}

// Apply folds one decoded event into the session. Events arriving after the
// turn has been frozen (late deltas past cancellation) are ignored.
func (s *Session) Apply(ev sse.Event) {
	if s.status == StatusSending {
		s.status = StatusStreaming
	}
	if s.status != StatusStreaming {
		return
	}

	switch ev.Type {
	case stream.EventConversationID:
		var payload sse.ConversationIDData
		if err := ev.Decode(&payload); err == nil && payload.ConversationID != "" {
			s.conversationID = payload.ConversationID
		}

	case stream.EventChunk:
		var payload sse.ChunkData
		if err := ev.Decode(&payload); err != nil {
			return
		}
		if msg := s.openMessage(); msg != nil {
			msg.Text += payload.Content
		}

	case stream.EventAnnotations:
		var payload sse.AnnotationsData
		if err := ev.Decode(&payload); err != nil {
			return
		}
		if msg := s.openMessage(); msg != nil {
			msg.Annotations = append(msg.Annotations, payload.Annotations...)
		}

	case stream.EventApprovalRequest:
		var payload sse.ApprovalRequestData
		if err := ev.Decode(&payload); err != nil {
			return
		}
		req := payload.ApprovalRequest
		s.freeze()
		s.items = append(s.items, &Item{
			ID:   uuid.NewString(),
			Role: RoleApproval,
			Approval: &ApprovalCard{
				ID:                 req.ID,
				ToolName:           req.ToolName,
				ServerLabel:        req.ServerLabel,
				Arguments:          req.Arguments,
				PreviousResponseID: req.ID,
			},
		})
		s.status = StatusIdle

	case stream.EventUsage:
		var usage stream.Usage
		if err := ev.Decode(&usage); err == nil {
			s.lastUsage = &usage
		}

	case stream.EventDone:
		s.freeze()
		s.status = StatusIdle

	case stream.EventError:
		var payload sse.ErrorData
		message := "the stream ended with an error"
		if err := ev.Decode(&payload); err == nil && payload.Message != "" {
			message = payload.Message
		}
		s.freeze()
		s.lastError = message
		s.status = StatusError
	}
}

// Cancel aborts the in-flight turn locally: the partial assistant message is
// frozen as-is and the session returns to Idle. Legal while Sending or
// Streaming; the caller is responsible for tearing down the transport, and
// the transport closing afterwards is not treated as a failure.
func (s *Session) Cancel() error {
	if s.status != StatusSending && s.status != StatusStreaming {
		return ErrNotStreaming
	}
	s.freeze()
	s.status = StatusIdle
	return nil
}

// Fail records a transport-level failure: partial output is preserved and the
// session moves to Error with the given message.
func (s *Session) Fail(message string) {
	if message == "" {
		message = "connection to the chat service was lost"
	}
	s.freeze()
	s.lastError = message
	s.status = StatusError
}

// StreamEnded handles the transport stream closing. A close while still
// Sending or Streaming means no terminal record arrived, which is treated as
// a transport failure with a generic message.
func (s *Session) StreamEnded() {
	if s.status == StatusSending || s.status == StatusStreaming {
		s.Fail("the response stream ended unexpectedly")
	}
}

// DismissError returns an errored session to Idle.
func (s *Session) DismissError() {
	if s.status == StatusError {
		s.lastError = ""
		s.status = StatusIdle
	}
}

// openAssistant appends the empty assistant message that will receive deltas.
func (s *Session) openAssistant() {
	msg := &Item{ID: uuid.NewString(), Role: RoleAssistant}
	s.items = append(s.items, msg)
	s.streamingID = msg.ID
}

// openMessage returns the assistant item currently open for mutation.
func (s *Session) openMessage() *Item {
	if s.streamingID == "" {
		return nil
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == s.streamingID {
			return s.items[i]
		}
	}
	return nil
}

// freeze closes the open assistant message, even if it is still empty.
// Partial output already accumulated is always preserved.
func (s *Session) freeze() {
	s.streamingID = ""
}

// pendingApproval returns the newest unresolved approval card, if any.
func (s *Session) pendingApproval() *ApprovalCard {
	for i := len(s.items) - 1; i >= 0; i-- {
		if card := s.items[i].Approval; card != nil && !card.Resolved {
			return card
		}
	}
	return nil
}

// PendingApproval exposes the unresolved approval card for the UI.
func (s *Session) PendingApproval() *ApprovalCard {
	return s.pendingApproval()
}
