package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/healtrack/healtrack/internal/domain/identity"
)

// Socket events.
const (
	EventChatCreated = "chat_created"
	EventSendMessage = "send_message"
	EventChat        = "chat"
)

// RoomPrefix namespaces chat rooms on the real-time channel.
const RoomPrefix = "chat:"

// Room is the real-time room for a chat.
func Room(chatID uuid.UUID) string {
	return RoomPrefix + chatID.String()
}

type Chat struct {
	ID                  uuid.UUID        `json:"id"`
	Title               string           `json:"title"`
	CreatedByID         uuid.UUID        `json:"-"`
	CreatedBy           *identity.User   `json:"created_by"`
	ParticipantIDs      []uuid.UUID      `json:"-"`
	Participants        []*identity.User `json:"participants"`
	LastMessageID       *uuid.UUID       `json:"-"`
	LastMessage         *Message         `json:"last_message"`
	UnreadMessagesCount int              `json:"unread_messages_count"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// HasMember reports whether userID is a participant or the creator.
func (c *Chat) HasMember(userID uuid.UUID) bool {
	if c.CreatedByID == userID {
		return true
	}
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Members is the participant set plus the creator, without duplicates.
func (c *Chat) Members() []uuid.UUID {
	return dedupe(append([]uuid.UUID{c.CreatedByID}, c.ParticipantIDs...))
}

type Message struct {
	ID         uuid.UUID      `json:"id"`
	Seq        int64          `json:"-"`
	ChatID     uuid.UUID      `json:"chat_id"`
	UserID     uuid.UUID      `json:"-"`
	User       *identity.User `json:"user"`
	Message    string         `json:"message"`
	Attachment *string        `json:"attachment"`
	WasEdited  bool           `json:"was_edited"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// after reports whether m sorts after o in chat order.
func (m *Message) after(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.After(o.CreatedAt)
	}
	return m.Seq > o.Seq
}

// MessagePage is one page of a chat's messages, oldest first.
type MessagePage struct {
	Data  []*Message `json:"data"`
	Count int        `json:"count"`
	Chat  *Chat      `json:"chat,omitempty"`
}

// ChatCreatedPayload is the data of a chat_created event.
type ChatCreatedPayload struct {
	User    *identity.User `json:"user"`
	NewChat *Chat          `json:"newChat"`
}

// MessagePayload is the data of a send_message / chat event.
type MessagePayload struct {
	User    *identity.User `json:"user"`
	Message *Message       `json:"message"`
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
