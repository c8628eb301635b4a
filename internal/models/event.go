package models

// Conversation change event types pushed to chat clients.
const (
	EventConversationCreated = "conversation.created"
	EventMessagesAppended    = "conversation.messages_appended"
	EventConversationRenamed = "conversation.renamed"
	EventConversationDeleted = "conversation.deleted"
)

// WSMessage is the envelope written to websocket clients.
type WSMessage struct {
	Type    string            `json:"type"`
	Payload ConversationEvent `json:"payload"`
}

type ConversationEvent struct {
	ConversationID int64  `json:"conversationId"`
	Title          string `json:"title,omitempty"`
}
