package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sprache-backend/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) WithTx(ctx context.Context, fn func(tx ConversationTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgConversationTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *ConversationRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)", id).Scan(&exists)
	return exists, err
}

func (r *ConversationRepo) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	return getConversation(ctx, r.pool, id)
}

func (r *ConversationRepo) List(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, title, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []*models.Conversation{}
	var ids []int64
	for rows.Next() {
		c := &models.Conversation{Messages: []models.Message{}}
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return conversations, nil
	}

	byConversation, err := loadMessages(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range conversations {
		if msgs, ok := byConversation[c.ID]; ok {
			c.Messages = msgs
		}
	}
	return conversations, nil
}

func (r *ConversationRepo) Rename(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE conversations SET title = $1, updated_at = GREATEST(updated_at, clock_timestamp()) WHERE id = $2",
		title, id,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConversationNotFound
	}
	return getConversation(ctx, r.pool, id)
}

func (r *ConversationRepo) History(ctx context.Context, conversationID int64) ([]*models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.conversation_id, m.role, m.content, m.created_at, c.title
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.HistoryEntry{}
	for rows.Next() {
		e := &models.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Role, &e.Content, &e.CreatedAt, &e.ConversationTitle); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type pgConversationTx struct {
	q querier
}

func (t *pgConversationTx) CountConversations(ctx context.Context) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, "SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

func (t *pgConversationTx) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	c := &models.Conversation{Title: title, Messages: []models.Message{}}
	err := t.q.QueryRow(ctx,
		"INSERT INTO conversations (title) VALUES ($1) RETURNING id, created_at, updated_at",
		title,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (t *pgConversationTx) AppendMessage(ctx context.Context, conversationID int64, role models.Role, content string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	m := &models.Message{ConversationID: conversationID, Role: role, Content: content}
	err := t.q.QueryRow(ctx,
		"INSERT INTO messages (conversation_id, role, content) VALUES ($1, $2, $3) RETURNING id, created_at",
		conversationID, string(role), content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert %s message: %w", role, err)
	}
	return m, nil
}

func (t *pgConversationTx) TouchConversation(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, "UPDATE conversations SET updated_at = GREATEST(updated_at, clock_timestamp()) WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (t *pgConversationTx) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return getConversation(ctx, t.q, id)
}

func (t *pgConversationTx) DeleteMessages(ctx context.Context, conversationID int64) (int64, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", conversationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgConversationTx) DeleteConversation(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func getConversation(ctx context.Context, q querier, id int64) (*models.Conversation, error) {
	c := &models.Conversation{Messages: []models.Message{}}
	err := q.QueryRow(ctx,
		"SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1", id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	byConversation, err := loadMessages(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	if msgs, ok := byConversation[id]; ok {
		c.Messages = msgs
	}
	return c, nil
}

// loadMessages returns messages grouped by conversation, each group in chat order.
func loadMessages(ctx context.Context, q querier, conversationIDs []int64) (map[int64][]models.Message, error) {
	rows, err := q.Query(ctx, `SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, created_at ASC, id ASC`, conversationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]models.Message, len(conversationIDs))
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, rows.Err()
}

var _ ConversationStore = (*ConversationRepo)(nil)
