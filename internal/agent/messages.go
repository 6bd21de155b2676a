package agent

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"agentchat/internal/store"
	"agentchat/internal/stream"
)

// systemPrompt builds the system message for an agent persona.
func systemPrompt(name, description, instructions string) string {
	prompt := fmt.Sprintf("You are %s.", name)
	if description != "" {
		prompt += "\n" + description
	}
	if instructions != "" {
		prompt += "\n\n" + instructions
	}
	return prompt
}

// historyMessages converts persisted conversation history into model input.
func historyMessages(history []*store.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, schema.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		}
	}
	return messages
}

// userMessage builds the current turn's user message. Attachments become
// multimodal content parts alongside the text.
func userMessage(req stream.TurnRequest) *schema.Message {
	if len(req.Images) == 0 && len(req.Files) == 0 {
		return schema.UserMessage(req.Message)
	}

	parts := make([]schema.ChatMessagePart, 0, 1+len(req.Images)+len(req.Files))
	if req.Message != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: req.Message,
		})
	}
	for _, uri := range req.Images {
		parts = append(parts, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: uri},
		})
	}
	for _, f := range req.Files {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:  f.DataURI,
				Name: f.FileName,
			},
		})
	}

	return &schema.Message{Role: schema.User, MultiContent: parts}
}

// transcript is the serialized turn state persisted with a pending approval.
// Messages holds everything up to and including the suspended tool call's
// assistant message plus any tool results already produced; Remaining holds
// the calls from the same assistant message still awaiting execution after
// the suspended one.
type transcript struct {
	Messages  []*schema.Message `json:"messages"`
	Pending   schema.ToolCall   `json:"pending"`
	Remaining []schema.ToolCall `json:"remaining,omitempty"`
	Usage     stream.Usage      `json:"usage"`
}
