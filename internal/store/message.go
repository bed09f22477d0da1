package store

import (
	"errors"
	"time"
)

// Role is the closed set of message roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var (
	// ErrConversationNotFound is returned when the conversation id does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMissingToolCallID is returned when a tool message lacks its
	// correlation id. This indicates a protocol bug in the caller, not a
	// recoverable condition.
	ErrMissingToolCallID = errors.New("tool message requires a tool call id")
)

// Message is one entry in a conversation's append-only log. ID is the
// store-assigned sequence position, strictly increasing per conversation.
// ToolCallID is set only for role=tool messages and for assistant messages
// that requested a tool call.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the metadata row for one chat.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage builds a user message.
func NewUserMessage(conversationID, content string) Message {
	return Message{ConversationID: conversationID, Role: RoleUser, Content: content}
}

// NewAssistantMessage builds a plain assistant reply.
func NewAssistantMessage(conversationID, content string) Message {
	return Message{ConversationID: conversationID, Role: RoleAssistant, Content: content}
}

// NewAssistantToolCallMessage builds the assistant message that requested a
// tool round. Content carries the serialized call list; callID is the first
// requested call's id.
func NewAssistantToolCallMessage(conversationID, content, callID string) Message {
	return Message{ConversationID: conversationID, Role: RoleAssistant, Content: content, ToolCallID: callID}
}

// NewToolMessage builds a tool result message correlated to a requesting
// assistant message.
func NewToolMessage(conversationID, content, callID string) (Message, error) {
	if callID == "" {
		return Message{}, ErrMissingToolCallID
	}
	return Message{ConversationID: conversationID, Role: RoleTool, Content: content, ToolCallID: callID}, nil
}
