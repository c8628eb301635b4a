package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           Role      `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation is a titled thread. Messages are kept in chat order (oldest first).
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// HistoryEntry is a message annotated with its conversation's title, as
// returned by the history view (newest first).
type HistoryEntry struct {
	Message
	ConversationTitle string `json:"conversationTitle"`
}

// ChatRequest is the payload sent to the exchange endpoint.
type ChatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID *int64 `json:"conversationId,omitempty"`
}

// ChatResponse carries the generated reply. Conversation is set only when
// the exchange created a new conversation.
type ChatResponse struct {
	Message      string        `json:"message"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

type RenameRequest struct {
	ConversationID *int64 `json:"conversationId"`
	Title          string `json:"title"`
}

type SpeechRequest struct {
	Prompt string `json:"prompt"`
}
