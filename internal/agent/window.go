package agent

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatmem/internal/logger"
	"github.com/comigor/chatmem/internal/store"
)

// requestedCall is the persisted form of one model-requested tool call. An
// assistant message that requested a tool round stores the whole call list
// JSON-encoded in its content, so the window can be rebuilt on replay.
type requestedCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// encodeToolCalls serializes a tool-call request for persistence and
// returns the first call's id as the message's correlation id.
func encodeToolCalls(calls []openai.ToolCall) (content string, firstID string, err error) {
	out := make([]requestedCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, requestedCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", "", err
	}
	return string(encoded), calls[0].ID, nil
}

// decodeToolCalls reverses encodeToolCalls. ok is false when the content
// does not parse as a call list.
func decodeToolCalls(content string) ([]openai.ToolCall, bool) {
	var calls []requestedCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil || len(calls) == 0 {
		return nil, false
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return out, true
}

// toChatMessages projects the persisted window into the wire form the
// model endpoint expects. Assistant messages that requested a tool round
// get their tool_calls array reconstructed from the stored encoding.
func toChatMessages(msgs []store.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case store.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case store.RoleAssistant:
			if m.ToolCallID != "" {
				if calls, ok := decodeToolCalls(m.Content); ok {
					out = append(out, openai.ChatCompletionMessage{
						Role:      openai.ChatMessageRoleAssistant,
						ToolCalls: calls,
					})
					continue
				}
				logger.L.Warn("assistant tool-call message did not decode; sending as plain content", "message_id", m.ID)
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	}
	return out
}
