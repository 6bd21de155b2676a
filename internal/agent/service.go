package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"agentchat/internal/config"
	"agentchat/internal/store"
	"agentchat/internal/stream"
	"agentchat/internal/tools"
)

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownAgent        = errors.New("unknown agent")
	ErrUnknownApproval     = errors.New("unknown approval request")
)

// Service runs agent turns against an Eino chat model, persisting
// conversation state and suspending on approval-gated tool calls.
type Service struct {
	chatModel     model.ToolCallingChatModel
	registry      *tools.Registry
	conversations *store.ConversationStore
	agents        *store.AgentStore
	approvals     *store.ApprovalStore
	cfg           config.AgentConfig
	logger        *slog.Logger
}

var _ Streamer = (*Service)(nil)

// NewService creates a new Service.
func NewService(chatModel model.ToolCallingChatModel, registry *tools.Registry, conversations *store.ConversationStore, agents *store.AgentStore, approvals *store.ApprovalStore, cfg config.AgentConfig, logger *slog.Logger) *Service {
	return &Service{
		chatModel:     chatModel,
		registry:      registry,
		conversations: conversations,
		agents:        agents,
		approvals:     approvals,
		cfg:           cfg,
		logger:        logger,
	}
}

// ResolveConversation returns the conversation the request belongs to. A
// request without one gets a fresh conversation titled from the message; a
// resume request without one is routed through its pending approval.
func (s *Service) ResolveConversation(ctx context.Context, req stream.TurnRequest) (string, error) {
	if req.ConversationID != "" {
		if _, err := s.conversations.GetByID(ctx, req.ConversationID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", ErrUnknownConversation
			}
			return "", fmt.Errorf("load conversation: %w", err)
		}
		return req.ConversationID, nil
	}

	if req.McpApproval != nil {
		ap, err := s.approvals.GetPending(ctx, req.McpApproval.ApprovalRequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", ErrUnknownApproval
			}
			return "", fmt.Errorf("load approval: %w", err)
		}
		return ap.ConversationID, nil
	}

	conv, err := s.conversations.Create(ctx, req.Message, req.AgentID)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.ID, nil
}

// turnState carries one turn through the model loop.
type turnState struct {
	conversationID string
	messages       []*schema.Message
	pendingCall    *schema.ToolCall
	approved       bool
	remainingCalls []schema.ToolCall
	usage          stream.Usage
	annotations    []stream.Annotation
	opts           []model.Option
	startedAt      time.Time
}

// OpenTurn starts (or resumes) a turn. The returned stream ends after a
// terminal Usage or ApprovalRequest item; any other ending is a failure.
func (s *Service) OpenTurn(ctx context.Context, req stream.TurnRequest) (TurnStream, error) {
	timeout := s.cfg.TurnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)

	var (
		turn *turnState
		err  error
	)
	if req.McpApproval != nil {
		turn, err = s.prepareResume(tctx, req)
	} else {
		turn, err = s.prepareTurn(tctx, req)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	ts := newTurnStream(cancel)
	go func() {
		defer cancel()
		defer close(ts.ch)
		if err := s.runTurn(tctx, ts, turn); err != nil {
			s.logger.Error("turn failed", "conversation_id", turn.conversationID, "error", err)
			ts.fail(ctx, err)
		}
	}()
	return ts, nil
}

func (s *Service) prepareTurn(ctx context.Context, req stream.TurnRequest) (*turnState, error) {
	prompt, opts, err := s.persona(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	history, err := s.conversations.History(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if _, err := s.conversations.AppendMessage(ctx, req.ConversationID, "user", req.Message, nil); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(prompt))
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, userMessage(req))

	s.logger.Info("turn started", "conversation_id", req.ConversationID, "history", len(history))
	return &turnState{
		conversationID: req.ConversationID,
		messages:       messages,
		opts:           opts,
		startedAt:      time.Now(),
	}, nil
}

func (s *Service) prepareResume(ctx context.Context, req stream.TurnRequest) (*turnState, error) {
	ap, err := s.approvals.GetPending(ctx, req.McpApproval.ApprovalRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownApproval
		}
		return nil, fmt.Errorf("load approval: %w", err)
	}
	if req.ConversationID != "" && req.ConversationID != ap.ConversationID {
		return nil, ErrUnknownApproval
	}
	if err := s.approvals.Resolve(ctx, ap.ID, req.McpApproval.Approved); err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}

	var tr transcript
	if err := json.Unmarshal(ap.Transcript, &tr); err != nil {
		return nil, fmt.Errorf("decode approval transcript: %w", err)
	}

	conv, err := s.conversations.GetByID(ctx, ap.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	agentID := ""
	if conv.AgentID != nil {
		agentID = *conv.AgentID
	}
	_, opts, err := s.persona(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("turn resumed", "conversation_id", ap.ConversationID,
		"approval_id", ap.ID, "approved", req.McpApproval.Approved)
	return &turnState{
		conversationID: ap.ConversationID,
		messages:       tr.Messages,
		pendingCall:    &tr.Pending,
		approved:       req.McpApproval.Approved,
		remainingCalls: tr.Remaining,
		usage:          tr.Usage,
		opts:           opts,
		startedAt:      time.Now(),
	}, nil
}

// persona resolves the system prompt and model options, from the stored
// agent when one is named and from config otherwise.
func (s *Service) persona(ctx context.Context, agentID string) (string, []model.Option, error) {
	if agentID == "" {
		return systemPrompt(s.cfg.Name, s.cfg.Description, s.cfg.Instructions), nil, nil
	}

	a, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrUnknownAgent
		}
		return "", nil, fmt.Errorf("load agent: %w", err)
	}

	var opts []model.Option
	if a.Model != "" {
		opts = append(opts, model.WithModel(a.Model))
	}
	if a.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*a.Temperature)))
	}
	if a.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*a.TopP)))
	}

	description := ""
	if a.Description != nil {
		description = *a.Description
	}
	return systemPrompt(a.Name, description, a.Instructions), opts, nil
}

func (s *Service) runTurn(ctx context.Context, ts *turnStream, t *turnState) error {
	// answer a suspended call first when resuming
	if t.pendingCall != nil {
		if err := s.answerPending(ctx, ts, t); err != nil {
			return err
		}
		t.pendingCall = nil
	}
	if suspended, err := s.executeCalls(ctx, ts, t); err != nil || suspended {
		return err
	}

	m := s.chatModel
	infos, err := s.registry.Infos()
	if err != nil {
		return err
	}
	if len(infos) > 0 {
		m, err = s.chatModel.WithTools(infos)
		if err != nil {
			return fmt.Errorf("bind tools: %w", err)
		}
	}

	maxRounds := s.cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 8
	}

	for round := 0; ; round++ {
		if round >= maxRounds {
			return fmt.Errorf("tool round limit reached (%d)", maxRounds)
		}

		sr, err := m.Stream(ctx, t.messages, t.opts...)
		if err != nil {
			return fmt.Errorf("model stream: %w", err)
		}
		full, err := s.pumpStream(ctx, ts, sr)
		if err != nil {
			return err
		}
		if full.ResponseMeta != nil && full.ResponseMeta.Usage != nil {
			t.usage.PromptTokens += full.ResponseMeta.Usage.PromptTokens
			t.usage.CompletionTokens += full.ResponseMeta.Usage.CompletionTokens
			t.usage.TotalTokens += full.ResponseMeta.Usage.TotalTokens
		}
		t.messages = append(t.messages, full)

		if len(full.ToolCalls) == 0 {
			return s.finishTurn(ctx, ts, t, full)
		}

		t.remainingCalls = full.ToolCalls
		suspended, err := s.executeCalls(ctx, ts, t)
		if err != nil || suspended {
			return err
		}
	}
}

// pumpStream forwards text deltas and returns the concatenated message.
func (s *Service) pumpStream(ctx context.Context, ts *turnStream, sr *schema.StreamReader[*schema.Message]) (*schema.Message, error) {
	defer sr.Close()

	var frames []*schema.Message
	for {
		frame, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}
		frames = append(frames, frame)
		if frame.Content != "" {
			if !ts.emit(ctx, Item{Kind: ItemTextDelta, Text: frame.Content}) {
				return nil, ctx.Err()
			}
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("model stream produced no output")
	}

	full, err := schema.ConcatMessages(frames)
	if err != nil {
		return nil, fmt.Errorf("concat model stream: %w", err)
	}
	return full, nil
}

// executeCalls drains t.remainingCalls, suspending on the first
// approval-gated call. Returns true when the turn suspended.
func (s *Service) executeCalls(ctx context.Context, ts *turnStream, t *turnState) (bool, error) {
	for len(t.remainingCalls) > 0 {
		call := t.remainingCalls[0]
		t.remainingCalls = t.remainingCalls[1:]

		tl, ok := s.registry.Get(call.Function.Name)
		if !ok {
			s.logger.Warn("model called unknown tool", "tool", call.Function.Name)
			t.messages = append(t.messages, schema.ToolMessage(
				toolError(fmt.Sprintf("unknown tool %q", call.Function.Name)), call.ID))
			continue
		}
		if tl.RequireApproval {
			return true, s.suspend(ctx, ts, t, tl, call)
		}
		if err := s.invoke(ctx, ts, t, tl, call); err != nil {
			return false, err
		}
	}
	return false, nil
}

// invoke executes one tool call, appends its tool message, and forwards any
// citations as an annotations item.
func (s *Service) invoke(ctx context.Context, ts *turnStream, t *turnState, tl *tools.Tool, call schema.ToolCall) error {
	s.logger.Info("executing tool", "tool", tl.Decl.Name, "conversation_id", t.conversationID)

	res, err := tl.Run(ctx, call.Function.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("tool failed", "tool", tl.Decl.Name, "error", err)
		t.messages = append(t.messages, schema.ToolMessage(toolError(err.Error()), call.ID))
		return nil
	}

	t.messages = append(t.messages, schema.ToolMessage(res.Content, call.ID))
	if len(res.Annotations) > 0 {
		t.annotations = append(t.annotations, res.Annotations...)
		if !ts.emit(ctx, Item{Kind: ItemAnnotations, Annotations: res.Annotations}) {
			return ctx.Err()
		}
	}
	return nil
}

// suspend persists the turn state under a fresh response id and emits the
// terminal approval request.
func (s *Service) suspend(ctx context.Context, ts *turnStream, t *turnState, tl *tools.Tool, call schema.ToolCall) error {
	responseID := uuid.New().String()

	data, err := json.Marshal(transcript{
		Messages:  t.messages,
		Pending:   call,
		Remaining: t.remainingCalls,
		Usage:     t.usage,
	})
	if err != nil {
		return fmt.Errorf("encode approval transcript: %w", err)
	}

	err = s.approvals.CreatePending(ctx, &store.Approval{
		ID:             responseID,
		ConversationID: t.conversationID,
		ToolName:       tl.Decl.Name,
		ServerLabel:    tl.ServerLabel,
		Arguments:      call.Function.Arguments,
		ToolCallID:     call.ID,
		Transcript:     data,
	})
	if err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}
	if err := s.conversations.SetLastResponseID(ctx, t.conversationID, responseID); err != nil {
		return fmt.Errorf("record response id: %w", err)
	}

	s.logger.Info("turn suspended for approval", "conversation_id", t.conversationID,
		"approval_id", responseID, "tool", tl.Decl.Name)
	ts.emit(ctx, Item{Kind: ItemApprovalRequest, Approval: &stream.ApprovalRequest{
		ID:          responseID,
		ToolName:    tl.Decl.Name,
		ServerLabel: tl.ServerLabel,
		Arguments:   call.Function.Arguments,
	}})
	return nil
}

// answerPending produces the tool message for the call the user just decided.
func (s *Service) answerPending(ctx context.Context, ts *turnStream, t *turnState) error {
	call := *t.pendingCall
	if !t.approved {
		t.messages = append(t.messages, schema.ToolMessage(
			`{"status":"denied","error":"denied by user"}`, call.ID))
		return nil
	}

	tl, ok := s.registry.Get(call.Function.Name)
	if !ok {
		t.messages = append(t.messages, schema.ToolMessage(
			toolError(fmt.Sprintf("unknown tool %q", call.Function.Name)), call.ID))
		return nil
	}
	return s.invoke(ctx, ts, t, tl, call)
}

// finishTurn persists the assistant message and emits the terminal usage.
func (s *Service) finishTurn(ctx context.Context, ts *turnStream, t *turnState, final *schema.Message) error {
	if _, err := s.conversations.AppendMessage(ctx, t.conversationID, "assistant", final.Content, t.annotations); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}

	t.usage.Duration = float64(time.Since(t.startedAt)) / float64(time.Millisecond)
	usage := t.usage
	ts.emit(ctx, Item{Kind: ItemUsage, Usage: &usage})

	s.logger.Info("turn completed", "conversation_id", t.conversationID,
		"total_tokens", usage.TotalTokens)
	return nil
}

func toolError(msg string) string {
	out, _ := json.Marshal(map[string]string{"status": "error", "error": msg})
	return string(out)
}
