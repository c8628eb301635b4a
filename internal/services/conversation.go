package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sprache-backend/internal/events"
	"sprache-backend/internal/models"
	"sprache-backend/internal/repository"
)

const autoTitlePrefix = "Lektion"

type ConversationService struct {
	store     repository.ConversationStore
	generator TextGenerator
	events    events.Publisher
	logger    *zap.Logger
}

func NewConversationService(store repository.ConversationStore, generator TextGenerator, publisher events.Publisher, logger *zap.Logger) *ConversationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ConversationService{
		store:     store,
		generator: generator,
		events:    publisher,
		logger:    logger,
	}
}

// Exchange sends prompt to the tutor and records both sides of the exchange.
// Without a conversation id a new conversation is created and returned along
// with the reply.
func (s *ConversationService) Exchange(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Fields: map[string]string{"prompt": "Prompt is required"}}
	}

	if req.ConversationID != nil {
		exists, err := s.store.Exists(ctx, *req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up conversation: %w", err)
		}
		if !exists {
			return nil, conversationNotFound()
		}
	}

	// The oracle call stays outside the transaction so no connection is held
	// while the model is thinking.
	reply, err := s.generator.Generate(ctx, FramePrompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	var created *models.Conversation
	err = s.store.WithTx(ctx, func(tx repository.ConversationTx) error {
		var convID int64
		if req.ConversationID != nil {
			convID = *req.ConversationID
			if err := tx.TouchConversation(ctx, convID); err != nil {
				return err
			}
		} else {
			count, err := tx.CountConversations(ctx)
			if err != nil {
				return err
			}
			conv, err := tx.CreateConversation(ctx, autoTitle(count))
			if err != nil {
				return err
			}
			convID = conv.ID
		}

		if _, err := tx.AppendMessage(ctx, convID, models.RoleUser, prompt); err != nil {
			return err
		}
		if _, err := tx.AppendMessage(ctx, convID, models.RoleAssistant, reply); err != nil {
			return err
		}

		if req.ConversationID == nil {
			conv, err := tx.GetConversation(ctx, convID)
			if err != nil {
				return err
			}
			created = conv
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, conversationNotFound()
		}
		return nil, fmt.Errorf("failed to save exchange: %w", err)
	}

	resp := &models.ChatResponse{Message: reply}
	if created != nil {
		resp.Conversation = created
		s.publish(ctx, models.EventConversationCreated, created.ID, created.Title)
	} else {
		s.publish(ctx, models.EventMessagesAppended, *req.ConversationID, "")
	}
	return resp, nil
}

func (s *ConversationService) List(ctx context.Context) ([]*models.Conversation, error) {
	convs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, conversationNotFound()
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationService) Rename(ctx context.Context, req models.RenameRequest) (*models.Conversation, error) {
	fieldErrors := make(map[string]string)
	title := strings.TrimSpace(req.Title)
	if req.ConversationID == nil {
		fieldErrors["conversationId"] = "Conversation ID is required"
	}
	if title == "" {
		fieldErrors["title"] = "Title is required"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	conv, err := s.store.Rename(ctx, *req.ConversationID, title)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, conversationNotFound()
		}
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}

	s.publish(ctx, models.EventConversationRenamed, conv.ID, conv.Title)
	return conv, nil
}

// Delete removes the conversation and every message in it.
func (s *ConversationService) Delete(ctx context.Context, id int64) error {
	var removed int64
	err := s.store.WithTx(ctx, func(tx repository.ConversationTx) error {
		n, err := tx.DeleteMessages(ctx, id)
		if err != nil {
			return err
		}
		removed = n
		return tx.DeleteConversation(ctx, id)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return conversationNotFound()
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.logger.Info("conversation deleted",
		zap.Int64("conversation_id", id),
		zap.Int64("messages", removed),
	)
	s.publish(ctx, models.EventConversationDeleted, id, "")
	return nil
}

// History returns the messages of a conversation newest first. Unknown ids
// yield an empty list.
func (s *ConversationService) History(ctx context.Context, conversationID int64) ([]*models.HistoryEntry, error) {
	entries, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	return entries, nil
}

func (s *ConversationService) publish(ctx context.Context, eventType string, id int64, title string) {
	s.events.Publish(context.WithoutCancel(ctx), models.WSMessage{
		Type: eventType,
		Payload: models.ConversationEvent{
			ConversationID: id,
			Title:          title,
		},
	})
}

func autoTitle(existing int) string {
	return fmt.Sprintf("%s%d", autoTitlePrefix, existing+1)
}

func conversationNotFound() error {
	return &NotFoundError{Message: "Conversation not found"}
}
