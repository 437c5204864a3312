package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healtrack/healtrack/internal/platform/db"
)

// =========== Chat Repository ===========

type chatRepoPG struct{ pool *pgxpool.Pool }

func NewChatRepoPG(pool *pgxpool.Pool) ChatRepository {
	return &chatRepoPG{pool: pool}
}

// chatSelect reads the chat row, its participant ids and its latest message.
// The latest message comes from messages itself; last_message_id is only a
// cache maintained by SetLastMessage.
const chatSelect = `SELECT c.id, c.title, c.created_by, c.last_message_id, c.unread_messages_count,
	c.created_at, c.updated_at,
	ARRAY(SELECT p.user_id FROM chat_participants p WHERE p.chat_id = c.id ORDER BY p.user_id),
	lm.id, lm.seq, lm.user_id, lm.message, lm.attachment, lm.was_edited, lm.created_at, lm.updated_at
FROM chats c
LEFT JOIN LATERAL (
	SELECT m.id, m.seq, m.user_id, m.message, m.attachment, m.was_edited, m.created_at, m.updated_at
	FROM messages m WHERE m.chat_id = c.id
	ORDER BY m.created_at DESC, m.seq DESC
	LIMIT 1
) lm ON TRUE`

// nullableMessage receives the LEFT JOIN columns of the latest message.
type nullableMessage struct {
	ID         *uuid.UUID
	Seq        *int64
	UserID     *uuid.UUID
	Message    *string
	Attachment *string
	WasEdited  *bool
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
}

func (n *nullableMessage) dest() []any {
	return []any{&n.ID, &n.Seq, &n.UserID, &n.Message, &n.Attachment, &n.WasEdited, &n.CreatedAt, &n.UpdatedAt}
}

func (n *nullableMessage) message(chatID uuid.UUID) *Message {
	if n.ID == nil {
		return nil
	}
	m := &Message{ID: *n.ID, ChatID: chatID, Attachment: n.Attachment}
	if n.Seq != nil {
		m.Seq = *n.Seq
	}
	if n.UserID != nil {
		m.UserID = *n.UserID
	}
	if n.Message != nil {
		m.Message = *n.Message
	}
	if n.WasEdited != nil {
		m.WasEdited = *n.WasEdited
	}
	if n.CreatedAt != nil {
		m.CreatedAt = *n.CreatedAt
	}
	if n.UpdatedAt != nil {
		m.UpdatedAt = *n.UpdatedAt
	}
	return m
}

func scanChat(row pgx.Row) (*Chat, error) {
	var c Chat
	var lm nullableMessage
	dest := append([]any{&c.ID, &c.Title, &c.CreatedByID, &c.LastMessageID, &c.UnreadMessagesCount,
		&c.CreatedAt, &c.UpdatedAt, &c.ParticipantIDs}, lm.dest()...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	c.LastMessage = lm.message(c.ID)
	return &c, nil
}

func (r *chatRepoPG) queryChats(ctx context.Context, sql string, args ...any) ([]*Chat, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *chatRepoPG) Create(ctx context.Context, c *Chat) error {
	c.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH c AS (
			INSERT INTO chats (id, title, created_by) VALUES ($1, $2, $3)
			RETURNING unread_messages_count, created_at, updated_at
		), p AS (
			INSERT INTO chat_participants (chat_id, user_id)
			SELECT $1, unnest($4::uuid[])
			ON CONFLICT DO NOTHING
		)
		SELECT unread_messages_count, created_at, updated_at FROM c`,
		c.ID, c.Title, c.CreatedByID, c.ParticipantIDs,
	).Scan(&c.UnreadMessagesCount, &c.CreatedAt, &c.UpdatedAt)
}

func (r *chatRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Chat, error) {
	return scanChat(db.Conn(ctx, r.pool).QueryRow(ctx, chatSelect+` WHERE c.id = $1`, id))
}

func (r *chatRepoPG) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE chats SET title = $2, updated_at = NOW() WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (r *chatRepoPG) AddParticipants(ctx context.Context, id uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		INSERT INTO chat_participants (chat_id, user_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`, id, userIDs); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `UPDATE chats SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *chatRepoPG) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Chat, error) {
	return r.queryChats(ctx, chatSelect+`
		WHERE c.created_by = $1
		   OR EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $1)
		ORDER BY lm.created_at DESC NULLS LAST, lm.seq DESC NULLS LAST, c.created_at DESC`, userID)
}

func (r *chatRepoPG) FindBetween(ctx context.Context, a, b uuid.UUID) (*Chat, error) {
	return scanChat(db.Conn(ctx, r.pool).QueryRow(ctx, chatSelect+`
		WHERE EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $1)
		  AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = $2)
		ORDER BY c.created_at
		LIMIT 1`, a, b))
}

func (r *chatRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (r *chatRepoPG) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE chats SET last_message_id = $2, updated_at = NOW() WHERE id = $1`, chatID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (r *chatRepoPG) ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id FROM chats WHERE created_by = $1
		UNION
		SELECT chat_id FROM chat_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, seq, chat_id, user_id, message, attachment, was_edited, created_at, updated_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Seq, &m.ChatID, &m.UserID, &m.Message, &m.Attachment,
		&m.WasEdited, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, user_id, message, attachment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, was_edited, created_at, updated_at`,
		m.ID, m.ChatID, m.UserID, m.Message, m.Attachment,
	).Scan(&m.Seq, &m.WasEdited, &m.CreatedAt, &m.UpdatedAt)
}

func (r *messageRepoPG) ListByChat(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM messages WHERE chat_id = $1
		ORDER BY created_at, seq LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
