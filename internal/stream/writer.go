package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer frames events onto an HTTP response as SSE records. Each record is
// written in a single Write call as `data: <json>\n\n` with the event fields
// flattened at the top level next to "type", and the transport buffer is
// flushed immediately after each record so token delivery stays low-latency.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter prepares w for SSE output and sets the streaming headers. Headers
// only take effect if nothing has been written yet.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Started reports whether any record has been written. Once true, the HTTP
// status line is committed and errors can only be reported in-band.
func (sw *Writer) Started() bool {
	return sw.started
}

func (sw *Writer) write(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sse record: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse record: %w", err)
	}
	sw.started = true
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// ConversationID writes the conversationId event. It must be the first record
// of every stream.
func (sw *Writer) ConversationID(id string) error {
	return sw.write(struct {
		Type           EventType `json:"type"`
		ConversationID string    `json:"conversationId"`
	}{EventConversationID, id})
}

// Chunk writes one text delta.
func (sw *Writer) Chunk(content string) error {
	return sw.write(struct {
		Type    EventType `json:"type"`
		Content string    `json:"content"`
	}{EventChunk, content})
}

// Annotations writes a batch of citation annotations.
func (sw *Writer) Annotations(annotations []Annotation) error {
	return sw.write(struct {
		Type        EventType    `json:"type"`
		Annotations []Annotation `json:"annotations"`
	}{EventAnnotations, annotations})
}

// ApprovalRequest writes a pending tool approval. The server closes the
// response right after this record; no usage or done event follows.
func (sw *Writer) ApprovalRequest(req ApprovalRequest) error {
	return sw.write(struct {
		Type            EventType       `json:"type"`
		ApprovalRequest ApprovalRequest `json:"approvalRequest"`
	}{EventApprovalRequest, req})
}

// Usage writes the token usage summary for a finished turn.
func (sw *Writer) Usage(u Usage) error {
	return sw.write(struct {
		Type EventType `json:"type"`
		Usage
	}{Type: EventUsage, Usage: u})
}

// Done terminates a successful stream.
func (sw *Writer) Done() error {
	return sw.write(struct {
		Type EventType `json:"type"`
	}{EventDone})
}

// Error terminates a failed stream with a human-readable message.
func (sw *Writer) Error(message string) error {
	return sw.write(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message"`
	}{EventError, message})
}
