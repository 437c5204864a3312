package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// GetByID returns an active notification; soft-deleted rows are not found.
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	ListActive(ctx context.Context, limit, offset int) ([]*Notification, int, error)
	// ListAll includes soft-deleted rows.
	ListAll(ctx context.Context, limit, offset int) ([]*Notification, int, error)
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
	// CountUnreadFor returns a count for every id in ids, zero included.
	CountUnreadFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	// SoftDelete sets deleted_at and is_read together. Repeating it keeps the
	// first deleted_at.
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SoftDeleteAllForRecipient(ctx context.Context, recipientID uuid.UUID) (int64, error)
	PurgeSoftDeleted(ctx context.Context) (int64, error)
	PanicCounts(ctx context.Context) ([]PanicCount, error)
}
