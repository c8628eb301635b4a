package repository

import (
	"context"
	"errors"

	"sprache-backend/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
)

// ConversationStore persists conversations and their messages.
//
// Reads run directly against the store. Writes that must land together
// (an exchange, a delete) go through WithTx: fn receives a handle bound to a
// single transaction, which is committed only if fn returns nil.
type ConversationStore interface {
	WithTx(ctx context.Context, fn func(tx ConversationTx) error) error

	Exists(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (*models.Conversation, error)
	List(ctx context.Context) ([]*models.Conversation, error)
	Rename(ctx context.Context, id int64, title string) (*models.Conversation, error)
	History(ctx context.Context, conversationID int64) ([]*models.HistoryEntry, error)
	Ping(ctx context.Context) error
}

// ConversationTx is the set of writes available inside a transaction.
type ConversationTx interface {
	CountConversations(ctx context.Context) (int, error)
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error)
	// TouchConversation bumps updated_at. Returns ErrConversationNotFound for unknown ids.
	TouchConversation(ctx context.Context, id int64) error
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	DeleteMessages(ctx context.Context, conversationID int64) (int64, error)
	// DeleteConversation removes the row only; messages must already be gone.
	DeleteConversation(ctx context.Context, id int64) error
}
