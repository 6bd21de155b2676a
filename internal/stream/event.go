// Package stream defines the wire contract of the chat streaming protocol:
// the request body accepted by POST /v1/chat/stream and the typed events
// carried back as Server-Sent Events.
package stream

// EventType discriminates the SSE record variants.
type EventType string

const (
	EventConversationID  EventType = "conversationId"
	EventChunk           EventType = "chunk"
	EventAnnotations     EventType = "annotations"
	EventApprovalRequest EventType = "mcpApprovalRequest"
	EventUsage           EventType = "usage"
	EventDone            EventType = "done"
	EventError           EventType = "error"
)

// Annotation is a citation attached to a span of assistant output. It is
// anchored either by explicit offsets (StartIndex/EndIndex) or by a quoted
// substring; consumers must handle both.
type Annotation struct {
	Type          string `json:"type"`
	Label         string `json:"label"`
	URL           string `json:"url,omitempty"`
	FileID        string `json:"fileId,omitempty"`
	TextToReplace string `json:"textToReplace,omitempty"`
	StartIndex    *int   `json:"startIndex,omitempty"`
	EndIndex      *int   `json:"endIndex,omitempty"`
	Quote         string `json:"quote,omitempty"`
}

// ApprovalRequest asks the user to approve or reject a pending tool call.
// Its ID doubles as the continuation token for resuming the interrupted turn.
type ApprovalRequest struct {
	ID          string `json:"id"`
	ToolName    string `json:"toolName"`
	ServerLabel string `json:"serverLabel"`
	Arguments   string `json:"arguments"`
}

// Usage reports wall time and token accounting for a completed turn.
// Duration is in milliseconds.
type Usage struct {
	Duration         float64 `json:"duration"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
}
