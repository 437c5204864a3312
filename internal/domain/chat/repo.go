package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
)

type ChatRepository interface {
	// Create inserts the chat and its participant rows.
	Create(ctx context.Context, c *Chat) error
	// GetByID loads participant ids and the chat's latest message.
	GetByID(ctx context.Context, id uuid.UUID) (*Chat, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	// AddParticipants appends members; existing ones are left as they are.
	AddParticipants(ctx context.Context, id uuid.UUID, userIDs []uuid.UUID) error
	// ListForUser returns chats the user created or participates in, each with
	// its latest message read from the messages table.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Chat, error)
	// FindBetween returns the oldest chat having both users as participants.
	FindBetween(ctx context.Context, a, b uuid.UUID) (*Chat, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error
	ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// ListByChat pages messages ordered by created_at then seq.
	ListByChat(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
