package stream

import (
	"net/http/httptest"
	"testing"
)

func TestWriterSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWriter(rec)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("expected no-cache, got %q", cc)
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Fatalf("expected keep-alive, got %q", conn)
	}
}

func TestWriterWireFormat(t *testing.T) {
	cases := []struct {
		name  string
		write func(sw *Writer) error
		want  string
	}{
		{
			name:  "conversation id",
			write: func(sw *Writer) error { return sw.ConversationID("conv-1") },
			want:  "data: {\"type\":\"conversationId\",\"conversationId\":\"conv-1\"}\n\n",
		},
		{
			name:  "chunk",
			write: func(sw *Writer) error { return sw.Chunk("hello") },
			want:  "data: {\"type\":\"chunk\",\"content\":\"hello\"}\n\n",
		},
		{
			name:  "empty chunk",
			write: func(sw *Writer) error { return sw.Chunk("") },
			want:  "data: {\"type\":\"chunk\",\"content\":\"\"}\n\n",
		},
		{
			name: "annotations",
			write: func(sw *Writer) error {
				return sw.Annotations([]Annotation{{Type: "url_citation", Label: "Docs", URL: "https://example.com"}})
			},
			want: "data: {\"type\":\"annotations\",\"annotations\":[{\"type\":\"url_citation\",\"label\":\"Docs\",\"url\":\"https://example.com\"}]}\n\n",
		},
		{
			name: "approval request",
			write: func(sw *Writer) error {
				return sw.ApprovalRequest(ApprovalRequest{ID: "appr-1", ToolName: "doc_search", ServerLabel: "library", Arguments: "{}"})
			},
			want: "data: {\"type\":\"mcpApprovalRequest\",\"approvalRequest\":{\"id\":\"appr-1\",\"toolName\":\"doc_search\",\"serverLabel\":\"library\",\"arguments\":\"{}\"}}\n\n",
		},
		{
			name: "usage",
			write: func(sw *Writer) error {
				return sw.Usage(Usage{Duration: 42.5, PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
			},
			want: "data: {\"type\":\"usage\",\"duration\":42.5,\"promptTokens\":10,\"completionTokens\":20,\"totalTokens\":30}\n\n",
		},
		{
			name:  "done",
			write: func(sw *Writer) error { return sw.Done() },
			want:  "data: {\"type\":\"done\"}\n\n",
		},
		{
			name:  "error",
			write: func(sw *Writer) error { return sw.Error("upstream failed") },
			want:  "data: {\"type\":\"error\",\"message\":\"upstream failed\"}\n\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sw := NewWriter(rec)
			if err := tc.write(sw); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := rec.Body.String(); got != tc.want {
				t.Fatalf("wire mismatch:\n got  %q\n want %q", got, tc.want)
			}
			if !sw.Started() {
				t.Fatalf("expected writer to report started after first record")
			}
			if !rec.Flushed {
				t.Fatalf("expected record to be flushed immediately")
			}
		})
	}
}

func TestWriterNotStartedBeforeFirstRecord(t *testing.T) {
	sw := NewWriter(httptest.NewRecorder())
	if sw.Started() {
		t.Fatalf("fresh writer must not report started")
	}
}
