package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sprache-backend/internal/models"
)

type conversationRow struct {
	ID        int64 `gorm:"primaryKey"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []messageRow `gorm:"foreignKey:ConversationID"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             int64 `gorm:"primaryKey"`
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

func (messageRow) TableName() string { return "messages" }

type historyRow struct {
	ID                int64
	ConversationID    int64
	Role              string
	Content           string
	CreatedAt         time.Time
	ConversationTitle string
}

// SQLiteStore is the gorm-backed store used for local development and tests.
// The schema is created by database.OpenSQLite.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx ConversationTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqliteConversationTx{db: tx})
	})
}

func (s *SQLiteStore) Exists(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	return sqliteGetConversation(s.db.WithContext(ctx), id)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Preload("Messages", chatOrder).
		Order("updated_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	conversations := make([]*models.Conversation, 0, len(rows))
	for i := range rows {
		conversations = append(conversations, rows[i].toModel())
	}
	return conversations, nil
}

func (s *SQLiteStore) Rename(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&conversationRow{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": db.NowFunc(),
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConversationNotFound
	}
	return sqliteGetConversation(db, id)
}

func (s *SQLiteStore) History(ctx context.Context, conversationID int64) ([]*models.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id, m.conversation_id, m.role, m.content, m.created_at, c.title AS conversation_title").
		Joins("JOIN conversations c ON c.id = m.conversation_id").
		Where("m.conversation_id = ?", conversationID).
		Order("m.created_at DESC, m.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*models.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, &models.HistoryEntry{
			Message: models.Message{
				ID:             r.ID,
				ConversationID: r.ConversationID,
				Role:           models.Role(r.Role),
				Content:        r.Content,
				CreatedAt:      r.CreatedAt,
			},
			ConversationTitle: r.ConversationTitle,
		})
	}
	return entries, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type sqliteConversationTx struct {
	db *gorm.DB
}

func (t *sqliteConversationTx) CountConversations(ctx context.Context) (int, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&conversationRow{}).Count(&n).Error
	return int(n), err
}

func (t *sqliteConversationTx) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	row := conversationRow{Title: title}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return row.toModel(), nil
}

func (t *sqliteConversationTx) AppendMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	row := messageRow{ConversationID: conversationID, Role: string(role), Content: content}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert %s message: %w", role, err)
	}
	m := row.toModel()
	return &m, nil
}

func (t *sqliteConversationTx) TouchConversation(ctx context.Context, id int64) error {
	db := t.db.WithContext(ctx)
	res := db.Model(&conversationRow{}).Where("id = ?", id).Update("updated_at", db.NowFunc())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (t *sqliteConversationTx) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return sqliteGetConversation(t.db.WithContext(ctx), id)
}

func (t *sqliteConversationTx) DeleteMessages(ctx context.Context, conversationID int64) (int64, error) {
	res := t.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&messageRow{})
	return res.RowsAffected, res.Error
}

func (t *sqliteConversationTx) DeleteConversation(ctx context.Context, id int64) error {
	res := t.db.WithContext(ctx).Delete(&conversationRow{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func sqliteGetConversation(db *gorm.DB, id int64) (*models.Conversation, error) {
	var row conversationRow
	err := db.Preload("Messages", chatOrder).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func chatOrder(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (r *conversationRow) toModel() *models.Conversation {
	c := &models.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Messages:  make([]models.Message, 0, len(r.Messages)),
	}
	for _, m := range r.Messages {
		c.Messages = append(c.Messages, m.toModel())
	}
	return c
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           models.Role(r.Role),
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
	}
}

var _ ConversationStore = (*SQLiteStore)(nil)
