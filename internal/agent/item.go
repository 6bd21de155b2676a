package agent

import (
	"context"
	"io"
	"sync"

	"agentchat/internal/stream"
)

// ItemKind discriminates TurnStream items.
type ItemKind string

const (
	ItemTextDelta       ItemKind = "text_delta"
	ItemAnnotations     ItemKind = "annotations"
	ItemApprovalRequest ItemKind = "approval_request"
	ItemUsage           ItemKind = "usage"
)

// Item is one unit of upstream turn output. Exactly one payload field is set,
// matching Kind. ApprovalRequest and Usage are terminal: nothing follows them
// but the end of the stream.
type Item struct {
	Kind        ItemKind
	Text        string
	Annotations []stream.Annotation
	Approval    *stream.ApprovalRequest
	Usage       *stream.Usage
}

// TurnStream is a pull iterator over one agent turn. Recv returns io.EOF
// after the last item; any other error means the turn failed mid-flight.
type TurnStream interface {
	Recv() (Item, error)
	Close()
}

// Streamer opens agent turns against an upstream model.
type Streamer interface {
	// ResolveConversation returns the conversation the request belongs to,
	// creating one seeded from the message when the request names none.
	ResolveConversation(ctx context.Context, req stream.TurnRequest) (string, error)
	// OpenTurn starts the turn. req.ConversationID must be resolved.
	OpenTurn(ctx context.Context, req stream.TurnRequest) (TurnStream, error)
}

type turnResult struct {
	item Item
	err  error
}

// turnStream is the channel-backed TurnStream fed by the run goroutine.
type turnStream struct {
	ch     chan turnResult
	cancel context.CancelFunc
	once   sync.Once
}

func newTurnStream(cancel context.CancelFunc) *turnStream {
	return &turnStream{ch: make(chan turnResult), cancel: cancel}
}

func (s *turnStream) Recv() (Item, error) {
	res, ok := <-s.ch
	if !ok {
		return Item{}, io.EOF
	}
	return res.item, res.err
}

func (s *turnStream) Close() {
	s.once.Do(s.cancel)
}

// emit delivers one item, returning false when the consumer is gone.
func (s *turnStream) emit(ctx context.Context, item Item) bool {
	select {
	case s.ch <- turnResult{item: item}:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail delivers a terminal error. The producer closes the channel afterwards.
func (s *turnStream) fail(ctx context.Context, err error) {
	select {
	case s.ch <- turnResult{err: err}:
	case <-ctx.Done():
	}
}
