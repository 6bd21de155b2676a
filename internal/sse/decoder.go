// Package sse decodes the chat streaming wire format on the client side.
//
// The server emits flat records (`{"type":"chunk","content":"..."}`); the
// decoder reshapes every record into {Type, Data} where Data holds all fields
// other than "type". This flatten/nest asymmetry is part of the wire contract.
package sse

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"agentchat/internal/stream"
)

const dataPrefix = "data: "

// Event is one decoded SSE record.
type Event struct {
	Type stream.EventType
	Data json.RawMessage
}

// Payload shapes for the event variants. Decode with Event.Decode.
type (
	ConversationIDData struct {
		ConversationID string `json:"conversationId"`
	}
	ChunkData struct {
		Content string `json:"content"`
	}
	AnnotationsData struct {
		Annotations []stream.Annotation `json:"annotations"`
	}
	ApprovalRequestData struct {
		ApprovalRequest stream.ApprovalRequest `json:"approvalRequest"`
	}
	ErrorData struct {
		Message string `json:"message"`
	}
)

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Decoder reassembles `data: {json}` records from arbitrarily chunked input.
// A single residual buffer carries incomplete lines across chunk boundaries,
// so any split of the byte stream decodes to the same ordered event sequence.
// The zero value is ready to use.
type Decoder struct {
	buf    string
	logger *slog.Logger
}

// NewDecoder creates a Decoder that reports discarded records to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Feed appends chunk to the residual buffer and returns every event completed
// by it, in arrival order. Malformed records are discarded with a diagnostic;
// Feed never fails.
func (d *Decoder) Feed(chunk string) []Event {
	d.buf += chunk

	var events []Event
	for {
		line, rest, ok := nextLine(d.buf)
		if !ok {
			break
		}
		d.buf = rest
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close decodes whatever complete record may remain in the buffer once the
// transport stream has ended.
func (d *Decoder) Close() []Event {
	line := d.buf
	d.buf = ""
	if ev, ok := d.decodeLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// nextLine splits s at the first `\r?\n` boundary. ok is false when s holds
// no complete line yet.
func nextLine(s string) (line, rest string, ok bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return "", s, false
	}
	line = s[:i]
	line = strings.TrimSuffix(line, "\r")
	return line, s[i+1:], true
}

// decodeLine parses one line into an Event. Blank separator lines, non-data
// SSE fields and malformed JSON are all skipped, never fatal: one bad record
// must not abort the stream.
func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return Event{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		d.warn("malformed sse record", "error", err)
		return Event{}, false
	}

	rawType, ok := fields["type"]
	if !ok {
		d.warn("sse record missing type field")
		return Event{}, false
	}
	var evType string
	if err := json.Unmarshal(rawType, &evType); err != nil || evType == "" {
		d.warn("sse record with invalid type field")
		return Event{}, false
	}

	// Reshape {type, ...rest} into {type, data: rest}, inverting the
	// server-side flattening.
	delete(fields, "type")
	data, err := json.Marshal(fields)
	if err != nil {
		d.warn("sse record payload not re-encodable", "error", err)
		return Event{}, false
	}
	return Event{Type: stream.EventType(evType), Data: data}, true
}

func (d *Decoder) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

// Stream pumps r through a Decoder and delivers events on the returned
// channel in arrival order. The channel closes when r ends, when ctx is
// cancelled, or on a read error; transport failures surface to the consumer
// as a stream that ends without a terminal record.
func Stream(ctx context.Context, r io.Reader, logger *slog.Logger) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		dec := NewDecoder(logger)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range dec.Feed(string(buf[:n])) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF && logger != nil {
					logger.Warn("sse stream read failed", "error", err)
				}
				for _, ev := range dec.Close() {
					select {
					case out <- ev:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return out
}
