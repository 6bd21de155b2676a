package agent

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"agentchat/internal/config"
	"agentchat/internal/storage"
	"agentchat/internal/store"
	"agentchat/internal/stream"
	"agentchat/internal/tools"
)

// fakeModel replays scripted response frames, one script entry per call.
type fakeModel struct {
	scripts [][]*schema.Message
	calls   int
	inputs  [][]*schema.Message
}

func (m *fakeModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	sr, err := m.Stream(context.Background(), msgs)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	var frames []*schema.Message
	for {
		f, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return schema.ConcatMessages(frames)
}

func (m *fakeModel) Stream(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.inputs = append(m.inputs, msgs)
	if m.calls >= len(m.scripts) {
		return nil, errors.New("no scripted response left")
	}
	frames := m.scripts[m.calls]
	m.calls++
	return schema.StreamReaderFromArray(frames), nil
}

func (m *fakeModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func textFrames(parts ...string) []*schema.Message {
	frames := make([]*schema.Message, 0, len(parts))
	for i, p := range parts {
		f := schema.AssistantMessage(p, nil)
		if i == len(parts)-1 {
			f.ResponseMeta = &schema.ResponseMeta{
				Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func toolCallFrame(id, name, args string) []*schema.Message {
	f := schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
	f.ResponseMeta = &schema.ResponseMeta{
		Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	return []*schema.Message{f}
}

type fixture struct {
	svc           *Service
	conversations *store.ConversationStore
	approvals     *store.ApprovalStore
	model         *fakeModel
}

func newFixture(t *testing.T, m *fakeModel, registry *tools.Registry) *fixture {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if registry == nil {
		registry = tools.NewRegistry()
	}
	conversations := store.NewConversationStore(db)
	cfg := config.AgentConfig{
		Name:          "Assistant",
		Instructions:  "Be helpful.",
		MaxToolRounds: 4,
		TurnTimeout:   time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	approvals := store.NewApprovalStore(db)
	svc := NewService(m, registry, conversations, store.NewAgentStore(db), approvals, cfg, logger)
	return &fixture{svc: svc, conversations: conversations, approvals: approvals, model: m}
}

// drain collects all items until the stream ends.
func drain(t *testing.T, ts TurnStream) ([]Item, error) {
	t.Helper()
	var items []Item
	for {
		item, err := ts.Recv()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

func openTurn(t *testing.T, fx *fixture, req stream.TurnRequest) (string, TurnStream) {
	t.Helper()
	ctx := context.Background()
	convID, err := fx.svc.ResolveConversation(ctx, req)
	if err != nil {
		t.Fatalf("resolve conversation: %v", err)
	}
	req.ConversationID = convID
	ts, err := fx.svc.OpenTurn(ctx, req)
	if err != nil {
		t.Fatalf("open turn: %v", err)
	}
	return convID, ts
}

func TestPlainTurn(t *testing.T) {
	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		textFrames("Hello", ", world"),
	}}, nil)

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "hi"})
	items, err := drain(t, ts)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(items), items)
	}
	if items[0].Kind != ItemTextDelta || items[0].Text != "Hello" {
		t.Errorf("item 0: %+v", items[0])
	}
	if items[1].Kind != ItemTextDelta || items[1].Text != ", world" {
		t.Errorf("item 1: %+v", items[1])
	}
	if items[2].Kind != ItemUsage {
		t.Fatalf("item 2: %+v", items[2])
	}
	u := items[2].Usage
	if u.PromptTokens != 10 || u.CompletionTokens != 5 || u.TotalTokens != 15 {
		t.Errorf("usage: %+v", u)
	}
	if u.Duration < 0 {
		t.Errorf("duration = %v", u.Duration)
	}

	msgs, err := fx.conversations.History(context.Background(), convID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello, world" {
		t.Errorf("assistant message: %+v", msgs[1])
	}

	// system prompt goes first on the model call
	if len(fx.model.inputs) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(fx.model.inputs))
	}
	first := fx.model.inputs[0][0]
	if first.Role != schema.System || !strings.Contains(first.Content, "Assistant") {
		t.Errorf("system message: %+v", first)
	}
}

func TestHistoryCarriesIntoNextTurn(t *testing.T) {
	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		textFrames("first"),
		textFrames("second"),
	}}, nil)

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "one"})
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("drain: %v", err)
	}
	_, ts = openTurn(t, fx, stream.TurnRequest{Message: "two", ConversationID: convID})
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("drain: %v", err)
	}

	input := fx.model.inputs[1]
	// system + user one + assistant first + user two
	if len(input) != 4 {
		t.Fatalf("expected 4 input messages, got %d", len(input))
	}
	if input[2].Role != schema.Assistant || input[2].Content != "first" {
		t.Errorf("history message: %+v", input[2])
	}
}

func TestToolRoundEmitsAnnotations(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "faq.md"), []byte("Refunds take 5 days.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	registry := tools.NewRegistry()
	if err := registry.Register(tools.DocSearch(dir)); err != nil {
		t.Fatal(err)
	}

	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		toolCallFrame("call-1", "doc_search", `{"query":"refunds"}`),
		textFrames("Refunds take five days."),
	}}, registry)

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "refund policy?"})
	items, err := drain(t, ts)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	var kinds []ItemKind
	for _, it := range items {
		kinds = append(kinds, it.Kind)
	}
	want := []ItemKind{ItemAnnotations, ItemTextDelta, ItemUsage}
	if len(kinds) != len(want) {
		t.Fatalf("items = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("items = %v, want %v", kinds, want)
		}
	}
	if items[0].Annotations[0].Label != "faq.md" {
		t.Errorf("annotation: %+v", items[0].Annotations[0])
	}

	// usage accumulates across both model rounds
	if items[2].Usage.TotalTokens != 30 {
		t.Errorf("total tokens = %d", items[2].Usage.TotalTokens)
	}

	// tool result went back to the model
	second := fx.model.inputs[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call-1" {
		t.Errorf("tool message: %+v", last)
	}

	// citations persisted with the assistant message
	msgs, err := fx.conversations.History(context.Background(), convID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs[1].Annotations) != 1 {
		t.Errorf("persisted annotations: %+v", msgs[1].Annotations)
	}
}

func gatedRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	gated := tools.CurrentTime()
	gated.RequireApproval = true
	gated.ServerLabel = "clock"
	if err := registry.Register(gated); err != nil {
		t.Fatal(err)
	}
	return registry
}

func TestGatedToolSuspendsTurn(t *testing.T) {
	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		toolCallFrame("call-1", "current_time", `{"timezone":"UTC"}`),
	}}, gatedRegistry(t))

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "what time is it?"})
	items, err := drain(t, ts)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(items) != 1 || items[0].Kind != ItemApprovalRequest {
		t.Fatalf("items: %+v", items)
	}
	req := items[0].Approval
	if req.ToolName != "current_time" || req.ServerLabel != "clock" || req.ID == "" {
		t.Errorf("approval request: %+v", req)
	}

	ap, err := fx.approvals.GetPending(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("pending approval: %v", err)
	}
	if ap.ConversationID != convID || ap.ToolCallID != "call-1" {
		t.Errorf("approval record: %+v", ap)
	}

	conv, err := fx.conversations.GetByID(context.Background(), convID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if conv.LastResponseID == nil || *conv.LastResponseID != req.ID {
		t.Errorf("last response id = %v", conv.LastResponseID)
	}
}

func TestResumeApprovedExecutesTool(t *testing.T) {
	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		toolCallFrame("call-1", "current_time", `{"timezone":"UTC"}`),
		textFrames("It is noon."),
	}}, gatedRegistry(t))

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "what time is it?"})
	items, err := drain(t, ts)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	approvalID := items[0].Approval.ID

	_, ts = openTurn(t, fx, stream.TurnRequest{
		ConversationID:     convID,
		PreviousResponseID: approvalID,
		McpApproval:        &stream.ApprovalDecision{ApprovalRequestID: approvalID, Approved: true},
	})
	items, err = drain(t, ts)
	if err != nil {
		t.Fatalf("drain resume: %v", err)
	}

	if len(items) != 2 || items[0].Kind != ItemTextDelta || items[1].Kind != ItemUsage {
		t.Fatalf("resume items: %+v", items)
	}
	if items[0].Text != "It is noon." {
		t.Errorf("text = %q", items[0].Text)
	}
	// usage totals include the suspended round
	if items[1].Usage.TotalTokens != 30 {
		t.Errorf("total tokens = %d", items[1].Usage.TotalTokens)
	}

	// the resumed model call saw the executed tool result
	resumeInput := fx.model.inputs[1]
	last := resumeInput[len(resumeInput)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call-1" {
		t.Fatalf("tool message: %+v", last)
	}
	if !strings.Contains(last.Content, `"status":"ok"`) {
		t.Errorf("tool content: %q", last.Content)
	}

	if _, err := fx.approvals.GetPending(context.Background(), approvalID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("approval still pending: %v", err)
	}
}

func TestResumeDeniedInjectsDenial(t *testing.T) {
	fx := newFixture(t, &fakeModel{scripts: [][]*schema.Message{
		toolCallFrame("call-1", "current_time", `{}`),
		textFrames("Understood."),
	}}, gatedRegistry(t))

	convID, ts := openTurn(t, fx, stream.TurnRequest{Message: "time?"})
	items, err := drain(t, ts)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	approvalID := items[0].Approval.ID

	_, ts = openTurn(t, fx, stream.TurnRequest{
		ConversationID: convID,
		McpApproval:    &stream.ApprovalDecision{ApprovalRequestID: approvalID, Approved: false},
	})
	if _, err := drain(t, ts); err != nil {
		t.Fatalf("drain resume: %v", err)
	}

	resumeInput := fx.model.inputs[1]
	last := resumeInput[len(resumeInput)-1]
	if last.Role != schema.Tool || !strings.Contains(last.Content, "denied") {
		t.Errorf("denial message: %+v", last)
	}
}

func TestResumeUnknownApproval(t *testing.T) {
	fx := newFixture(t, &fakeModel{}, nil)

	_, err := fx.svc.OpenTurn(context.Background(), stream.TurnRequest{
		ConversationID: "whatever",
		McpApproval:    &stream.ApprovalDecision{ApprovalRequestID: "nope", Approved: true},
	})
	if !errors.Is(err, ErrUnknownApproval) {
		t.Errorf("err = %v", err)
	}
}

func TestResolveUnknownConversation(t *testing.T) {
	fx := newFixture(t, &fakeModel{}, nil)

	_, err := fx.svc.ResolveConversation(context.Background(), stream.TurnRequest{
		Message:        "hi",
		ConversationID: "missing",
	})
	if !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("err = %v", err)
	}
}

func TestToolRoundLimit(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.CurrentTime()); err != nil {
		t.Fatal(err)
	}

	var scripts [][]*schema.Message
	for i := 0; i < 10; i++ {
		scripts = append(scripts, toolCallFrame("call", "current_time", `{}`))
	}
	fx := newFixture(t, &fakeModel{scripts: scripts}, registry)

	_, ts := openTurn(t, fx, stream.TurnRequest{Message: "loop forever"})
	_, err := drain(t, ts)
	if err == nil || !strings.Contains(err.Error(), "tool round limit") {
		t.Errorf("err = %v", err)
	}
}
