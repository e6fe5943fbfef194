package tool

import (
	"context"
	"fmt"
	"slices"
)

// SendMessageToolName is the name of the built-in delegation tool.
const SendMessageToolName = "send_message"

// Delegation is an agent's request to hand the conversation to another agent.
type Delegation struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// sendMessageTool lets a model delegate to one of the agents it may message.
type sendMessageTool struct {
	recipients []string
}

// NewSendMessageTool constructs the delegation tool restricted to recipients.
// Calling it yields a *Delegation; the agent ends its turn and the agency
// routes the message.
func NewSendMessageTool(recipients []string) Tool {
	return &sendMessageTool{recipients: append([]string(nil), recipients...)}
}

func (t *sendMessageTool) Name() string { return SendMessageToolName }

func (t *sendMessageTool) Description() string {
	return "Send a message to another agent and hand over the conversation. " +
		"Use when another agent is better suited to answer."
}

func (t *sendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{
				"type":        "string",
				"description": "Name of the agent to message",
				"enum":        t.recipients,
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message for the recipient, including all context it needs",
			},
		},
		"required": []string{"recipient", "message"},
	}
}

func (t *sendMessageTool) Call(_ context.Context, args map[string]any) (any, error) {
	recipient, _ := args["recipient"].(string)
	if recipient == "" {
		return nil, NewToolError(SendMessageToolName, "field 'recipient' must be a non-empty string", CodeValidation)
	}
	if !slices.Contains(t.recipients, recipient) {
		return nil, NewToolError(SendMessageToolName, fmt.Sprintf("unknown recipient %q", recipient), CodeValidation)
	}
	message, _ := args["message"].(string)
	if message == "" {
		return nil, NewToolError(SendMessageToolName, "field 'message' must be a non-empty string", CodeValidation)
	}
	return &Delegation{Recipient: recipient, Message: message}, nil
}
