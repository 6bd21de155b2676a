package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agentchat/internal/agent"
	"agentchat/internal/stream"
)

// handleChatStream handles POST /v1/chat/stream. It validates the turn
// request, resolves the conversation, and bridges the upstream turn onto the
// SSE response. Once the first record is out, failures are reported in-band.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req stream.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateTurnRequest(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	conversationID, err := s.streamer.ResolveConversation(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrUnknownConversation),
			errors.Is(err, agent.ErrUnknownAgent),
			errors.Is(err, agent.ErrUnknownApproval):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("resolve conversation failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to start stream")
		}
		return
	}
	req.ConversationID = conversationID

	sw := stream.NewWriter(w)
	if err := sw.ConversationID(conversationID); err != nil {
		return
	}

	ts, err := s.streamer.OpenTurn(ctx, req)
	if err != nil {
		s.logger.Error("open turn failed", "conversation_id", conversationID, "error", err)
		_ = sw.Error(publicError(err))
		return
	}
	defer ts.Close()

	terminal := false
	for {
		item, err := ts.Recv()
		if err == io.EOF {
			if !terminal && ctx.Err() == nil {
				_ = sw.Error("stream ended unexpectedly")
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				_ = sw.Error(publicError(err))
			}
			return
		}

		switch item.Kind {
		case agent.ItemTextDelta:
			if err := sw.Chunk(item.Text); err != nil {
				return
			}
		case agent.ItemAnnotations:
			if err := sw.Annotations(item.Annotations); err != nil {
				return
			}
		case agent.ItemApprovalRequest:
			// terminal: the response closes with no usage or done record
			_ = sw.ApprovalRequest(*item.Approval)
			terminal = true
			return
		case agent.ItemUsage:
			if err := sw.Usage(*item.Usage); err != nil {
				return
			}
			_ = sw.Done()
			terminal = true
			return
		}
	}
}

func validateTurnRequest(req stream.TurnRequest) error {
	if req.McpApproval == nil {
		if strings.TrimSpace(req.Message) == "" {
			return errors.New("message is required")
		}
	} else if req.McpApproval.ApprovalRequestID == "" {
		return errors.New("mcpApproval.approvalRequestId is required")
	}

	for i, uri := range req.Images {
		if err := validateDataURI(uri); err != nil {
			return fmt.Errorf("images[%d]: %w", i, err)
		}
	}
	for i, f := range req.Files {
		if err := validateDataURI(f.DataURI); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
	}
	return nil
}

// validateDataURI checks for a well-formed base64 data URI. Rejecting bad
// attachments here keeps the failure a plain 400 instead of a mid-stream
// error.
func validateDataURI(uri string) error {
	if !strings.HasPrefix(uri, "data:") {
		return errors.New("not a data URI")
	}
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return errors.New("malformed data URI")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return errors.New("data URI is not base64 encoded")
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return errors.New("invalid base64 payload")
	}
	return nil
}

// publicError maps an upstream failure to the in-band error message.
func publicError(err error) string {
	switch {
	case errors.Is(err, agent.ErrUnknownConversation),
		errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, agent.ErrUnknownApproval):
		return err.Error()
	default:
		return "agent stream failed: " + err.Error()
	}
}
