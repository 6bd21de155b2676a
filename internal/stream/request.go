package stream

// TurnRequest is the JSON body for POST /v1/chat/stream. Message may be empty
// only when resuming an interrupted turn via McpApproval.
type TurnRequest struct {
	Message            string            `json:"message"`
	ConversationID     string            `json:"conversationId,omitempty"`
	Images             []string          `json:"images,omitempty"`
	Files              []FileAttachment  `json:"files,omitempty"`
	PreviousResponseID string            `json:"previousResponseId,omitempty"`
	McpApproval        *ApprovalDecision `json:"mcpApproval,omitempty"`
	AgentID            string            `json:"agentId,omitempty"`
}

// FileAttachment is a document sent inline as a base64 data URI.
type FileAttachment struct {
	DataURI  string `json:"dataUri"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// ApprovalDecision is the user's answer to a pending ApprovalRequest.
type ApprovalDecision struct {
	ApprovalRequestID string `json:"approvalRequestId"`
	Approved          bool   `json:"approved"`
}
