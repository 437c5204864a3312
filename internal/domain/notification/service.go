package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/metrics"
	"github.com/healtrack/healtrack/internal/platform/websocket"
)

var (
	ErrRecipientRequired = errors.New("recipient id is required")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrTitleRequired     = errors.New("title is required")
	ErrMessageRequired   = errors.New("message is required")
	ErrInvalidKind       = errors.New("kind must be employee or message")
)

type Service struct {
	repo   Repository
	users  identity.Directory
	events websocket.Broadcaster
	scoped bool
	logger zerolog.Logger
}

// NewService wires the store to the broadcaster. With scoped set, unread
// counts go to each affected user; otherwise one map of every connected
// user's count is broadcast to all sockets.
func NewService(repo Repository, users identity.Directory, events websocket.Broadcaster, scoped bool, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, events: events, scoped: scoped, logger: logger}
}

func (s *Service) validate(ctx context.Context, n *Notification) error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return ErrTitleRequired
	}
	if n.Message == "" {
		return ErrMessageRequired
	}
	if n.Kind == "" {
		n.Kind = KindMessage
	}
	if n.Kind != KindEmployee && n.Kind != KindMessage {
		return ErrInvalidKind
	}
	if n.RecipientID == uuid.Nil {
		return ErrRecipientRequired
	}
	if _, err := s.users.GetUser(ctx, n.RecipientID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrRecipientNotFound
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	return nil
}

// Record validates and stores n without publishing unread counts. Callers
// that batch several writes publish once with PublishUnread.
func (s *Service) Record(ctx context.Context, n *Notification) error {
	if err := s.validate(ctx, n); err != nil {
		return err
	}
	n.IsRead = false
	n.DeletedAt = nil
	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Kind)).Inc()
	return nil
}

// Create stores n and publishes the recipient's new unread count.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if err := s.Record(ctx, n); err != nil {
		return err
	}
	s.PublishUnread(ctx, n.RecipientID)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// Update rewrites title and message of an active notification.
func (s *Service) Update(ctx context.Context, id uuid.UUID, title, message string) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if title = strings.TrimSpace(title); title != "" {
		n.Title = title
	}
	if message != "" {
		n.Message = message
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListActive(ctx, limit, offset)
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

func (s *Service) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	if recipientID == uuid.Nil {
		return nil, 0, ErrRecipientRequired
	}
	return s.repo.ListForRecipient(ctx, recipientID, limit, offset)
}

func (s *Service) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	if recipientID == uuid.Nil {
		return 0, ErrRecipientRequired
	}
	return s.repo.CountUnread(ctx, recipientID)
}

// MarkRead is idempotent: marking a read notification again succeeds and
// leaves the count unchanged.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	n.IsRead = true
	s.PublishUnread(ctx, n.RecipientID)
	return n, nil
}

// Remove soft-deletes one active notification. A second call on the same id
// is NotFound because the row is no longer active; the bulk paths below stay
// silent instead.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	if !n.IsRead {
		s.PublishUnread(ctx, n.RecipientID)
	}
	return nil
}

func (s *Service) RemoveAllForRecipient(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, ErrRecipientRequired
	}
	n, err := s.repo.SoftDeleteAllForRecipient(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.PublishUnread(ctx, recipientID)
	}
	return n, nil
}

// PurgeDeleted hard-deletes every soft-deleted notification. Maintenance
// only; no user-facing flow calls it implicitly.
func (s *Service) PurgeDeleted(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeSoftDeleted(ctx)
	if err != nil {
		return 0, err
	}
	metrics.NotificationsPurged.Add(float64(n))
	s.logger.Info().Int64("purged", n).Msg("purged soft-deleted notifications")
	return n, nil
}

func (s *Service) PanicCounts(ctx context.Context) ([]PanicCount, error) {
	return s.repo.PanicCounts(ctx)
}

// PublishUnread recomputes unread counts and emits them. Failures are logged;
// the next publish corrects any stale badge.
func (s *Service) PublishUnread(ctx context.Context, affected ...uuid.UUID) {
	if s.events == nil {
		return
	}

	ids := affected
	if !s.scoped {
		ids = mergeIDs(s.events.ConnectedUsers(), affected)
	}
	if len(ids) == 0 {
		return
	}

	counts, err := s.repo.CountUnreadFor(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unread count recompute failed")
		return
	}

	if !s.scoped {
		s.events.Emit(EventUnreadCount, stringKeys(counts))
		return
	}
	for _, id := range mergeIDs(nil, affected) {
		s.events.EmitToUser(id, EventUnreadCount, map[string]int{id.String(): counts[id]})
	}
}

func mergeIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, list := range [][]uuid.UUID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok || id == uuid.Nil {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func stringKeys(m map[uuid.UUID]int) map[string]int {
	out := make(map[string]int, len(m))
	for id, n := range m {
		out[id.String()] = n
	}
	return out
}
