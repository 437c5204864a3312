package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/domain/notification"
	"github.com/healtrack/healtrack/internal/platform/blobstore"
	"github.com/healtrack/healtrack/internal/platform/db"
	"github.com/healtrack/healtrack/internal/platform/metrics"
	"github.com/healtrack/healtrack/internal/platform/websocket"
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrMessageRequired = errors.New("message is required")
	ErrNotParticipant  = errors.New("user is not a participant of this chat")
)

// Send pipeline steps, used in logs and the step failure counter.
const (
	StepPersistAttachment  = "persist_attachment"
	StepSaveMessage        = "save_message"
	StepUpdateLastMessage  = "update_last_message"
	StepNotifyParticipants = "notify_participants"
)

// StepError names the send step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Notifier is the part of the notification service the orchestrator uses.
type Notifier interface {
	Record(ctx context.Context, n *notification.Notification) error
	PublishUnread(ctx context.Context, affected ...uuid.UUID)
}

// roomJoiner is implemented by the websocket hub.
type roomJoiner interface {
	JoinUser(userID uuid.UUID, room string)
}

type Config struct {
	// Scoped sends chat events to the chat's room and members instead of
	// every socket.
	Scoped bool
}

type Service struct {
	chats         ChatRepository
	messages      MessageRepository
	users         identity.Directory
	notifications Notifier
	blobs         blobstore.Store
	events        websocket.Broadcaster
	tx            db.TxRunner
	cfg           Config
	logger        zerolog.Logger
}

// NewService builds the orchestrator. tx groups the message, last-message and
// notification writes; pass db.NoTx{} to run them as independent writes.
func NewService(
	chats ChatRepository,
	messages MessageRepository,
	users identity.Directory,
	notifications Notifier,
	blobs blobstore.Store,
	events websocket.Broadcaster,
	tx db.TxRunner,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		chats:         chats,
		messages:      messages,
		users:         users,
		notifications: notifications,
		blobs:         blobs,
		events:        events,
		tx:            tx,
		cfg:           cfg,
		logger:        logger,
	}
}

// -- Chats --

type CreateInput struct {
	Title        string      `json:"title"`
	Participants []uuid.UUID `json:"participants"`
}

// CreateChat stores a chat with the resolvable participants plus the
// creator. Unknown participant ids are dropped, not rejected.
func (s *Service) CreateChat(ctx context.Context, creator *identity.User, in CreateInput) (*Chat, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	ids := dedupe(append(append([]uuid.UUID{}, in.Participants...), creator.ID))
	users, err := s.users.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}
	known := make(map[uuid.UUID]*identity.User, len(users))
	for _, u := range users {
		known[u.ID] = u
	}
	known[creator.ID] = creator

	c := &Chat{Title: title, CreatedByID: creator.ID}
	for _, id := range ids {
		if u, ok := known[id]; ok {
			c.ParticipantIDs = append(c.ParticipantIDs, id)
			c.Participants = append(c.Participants, u)
		} else {
			s.logger.Debug().Str("user_id", id.String()).Msg("dropping unknown chat participant")
		}
	}

	if err := s.chats.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	c.CreatedBy = creator
	metrics.ChatsCreated.Inc()

	payload := ChatCreatedPayload{User: creator, NewChat: c}
	if s.cfg.Scoped {
		s.joinRoom(c.ID, c.ParticipantIDs)
		s.events.EmitTo(websocket.Audience{Users: c.Members()}, EventChatCreated, payload)
	} else {
		s.events.Emit(EventChatCreated, payload)
	}
	return c, nil
}

func (s *Service) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	c, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type UpdateInput struct {
	Title        *string     `json:"title"`
	Participants []uuid.UUID `json:"participants"`
}

// UpdateChat renames the chat and appends participants. Members are never
// removed by an update.
func (s *Service) UpdateChat(ctx context.Context, id uuid.UUID, in UpdateInput) (*Chat, error) {
	c, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		if err := s.chats.UpdateTitle(ctx, id, title); err != nil {
			return nil, err
		}
	}

	var added []uuid.UUID
	if len(in.Participants) > 0 {
		users, err := s.users.ListUsersByIDs(ctx, dedupe(in.Participants))
		if err != nil {
			return nil, fmt.Errorf("resolve participants: %w", err)
		}
		for _, u := range users {
			if !contains(c.ParticipantIDs, u.ID) {
				added = append(added, u.ID)
			}
		}
		if err := s.chats.AddParticipants(ctx, id, added); err != nil {
			return nil, fmt.Errorf("add participants: %w", err)
		}
	}
	if s.cfg.Scoped {
		s.joinRoom(id, added)
	}
	return s.GetChat(ctx, id)
}

// ListForUser returns the user's chats, most recent conversation first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Chat, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, chats...); err != nil {
		return nil, err
	}
	sortByLastMessage(chats)
	return chats, nil
}

// FindBetween returns a chat both users take part in, or nil. A user paired
// with themselves, or an id that does not resolve, yields nil.
func (s *Service) FindBetween(ctx context.Context, a, b uuid.UUID) (*Chat, error) {
	if a == b {
		return nil, nil
	}
	for _, id := range []uuid.UUID{a, b} {
		if _, err := s.users.GetUser(ctx, id); err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}

	c, err := s.chats.FindBetween(ctx, a, b)
	if errors.Is(err, ErrChatNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteChat(ctx context.Context, id uuid.UUID) error {
	if _, err := s.chats.GetByID(ctx, id); err != nil {
		return err
	}
	return s.chats.Delete(ctx, id)
}

// RoomsForUser lists the real-time rooms of the user's chats.
func (s *Service) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ids, err := s.chats.ChatIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]string, len(ids))
	for i, id := range ids {
		rooms[i] = Room(id)
	}
	return rooms, nil
}

// -- Messages --

// Upload is an attachment as received from a client.
type Upload struct {
	Name    string
	Content io.Reader
}

type SendInput struct {
	ChatID     uuid.UUID
	Message    string
	Attachment *Upload
	// Event is the socket event the message is announced with. Defaults to
	// send_message.
	Event string
	// Channel labels the metric: "rest" or "socket".
	Channel string
}

// SendMessage runs the send pipeline: persist the attachment, save the
// message, move the chat's last-message pointer, notify the other members,
// then broadcast. The three writes share s.tx; with db.NoTx a failure leaves
// the earlier writes in place and is reported as a StepError.
func (s *Service) SendMessage(ctx context.Context, sender *identity.User, in SendInput) (*Message, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrMessageRequired
	}
	if in.Event == "" {
		in.Event = EventSendMessage
	}

	c, err := s.chats.GetByID(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(sender.ID) {
		return nil, ErrNotParticipant
	}
	author, err := s.users.GetUser(ctx, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}

	log := s.logger.With().Str("chat_id", c.ID.String()).Str("user_id", author.ID.String()).Logger()

	m := &Message{ChatID: c.ID, UserID: author.ID, User: author, Message: in.Message}

	var stored *blobstore.Stored
	if in.Attachment != nil {
		stored, err = s.blobs.Save(ctx, "chats/"+c.ID.String(), in.Attachment.Name, in.Attachment.Content)
		if err != nil {
			return nil, s.stepFailed(log, StepPersistAttachment, err)
		}
		m.Attachment = &stored.URL
	}

	recipients := otherMembers(c, author.ID)
	saved := false
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, m); err != nil {
			return s.stepFailed(log, StepSaveMessage, err)
		}
		saved = true
		if err := s.chats.SetLastMessage(ctx, c.ID, m.ID); err != nil {
			return s.stepFailed(log, StepUpdateLastMessage, err)
		}
		title := "Nuevo mensaje de " + author.DisplayName()
		for _, id := range recipients {
			n := &notification.Notification{
				Kind:        notification.KindMessage,
				Title:       title,
				Message:     m.Message,
				RecipientID: id,
			}
			if err := s.notifications.Record(ctx, n); err != nil {
				return s.stepFailed(log, StepNotifyParticipants, err)
			}
		}
		return nil
	})
	if err != nil {
		// The attachment is orphaned when no message row survived: either
		// the insert failed or our own transaction rolled it back.
		rolledBack := s.isTransactional() && db.TxFromContext(ctx) == nil
		if stored != nil && (!saved || rolledBack) {
			if rmErr := s.blobs.Remove(ctx, stored.Path); rmErr != nil {
				log.Warn().Err(rmErr).Str("path", stored.Path).Msg("failed to remove orphaned attachment")
			}
		}
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(channelLabel(in.Channel)).Inc()
	s.notifications.PublishUnread(ctx, recipients...)

	payload := MessagePayload{User: author, Message: m}
	if s.cfg.Scoped {
		s.events.EmitTo(websocket.Audience{Rooms: []string{Room(c.ID)}, Users: c.Members()}, in.Event, payload)
	} else {
		s.events.Emit(in.Event, payload)
	}
	return m, nil
}

// GetMessages returns a page of the chat's messages, oldest first, with the
// chat bundled in.
func (s *Service) GetMessages(ctx context.Context, chatID uuid.UUID, limit, offset int) (*MessagePage, error) {
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	items, total, err := s.messages.ListByChat(ctx, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateMessages(ctx, items...); err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Message{}
	}
	return &MessagePage{Data: items, Count: total, Chat: c}, nil
}

// -- helpers --

func (s *Service) isTransactional() bool {
	_, noTx := s.tx.(db.NoTx)
	return !noTx
}

func (s *Service) stepFailed(log zerolog.Logger, step string, err error) error {
	metrics.SendStepFailures.WithLabelValues(step).Inc()
	log.Error().Err(err).Str("step", step).Msg("send message step failed")
	return &StepError{Step: step, Err: err}
}

func (s *Service) joinRoom(chatID uuid.UUID, userIDs []uuid.UUID) {
	j, ok := s.events.(roomJoiner)
	if !ok {
		return
	}
	for _, id := range userIDs {
		j.JoinUser(id, Room(chatID))
	}
}

// hydrate fills creator, participant and last-message author records with
// one directory lookup.
func (s *Service) hydrate(ctx context.Context, chats ...*Chat) error {
	var ids []uuid.UUID
	for _, c := range chats {
		ids = append(ids, c.CreatedByID)
		ids = append(ids, c.ParticipantIDs...)
		if c.LastMessage != nil {
			ids = append(ids, c.LastMessage.UserID)
		}
	}
	users, err := s.lookup(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range chats {
		c.CreatedBy = users[c.CreatedByID]
		c.Participants = make([]*identity.User, 0, len(c.ParticipantIDs))
		for _, id := range c.ParticipantIDs {
			if u, ok := users[id]; ok {
				c.Participants = append(c.Participants, u)
			}
		}
		if c.LastMessage != nil {
			c.LastMessage.User = users[c.LastMessage.UserID]
		}
	}
	return nil
}

func (s *Service) hydrateMessages(ctx context.Context, msgs ...*Message) error {
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.UserID)
	}
	users, err := s.lookup(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		m.User = users[m.UserID]
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.User, error) {
	ids = dedupe(ids)
	out := make(map[uuid.UUID]*identity.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// sortByLastMessage orders chats by their latest message, newest first.
// Chats without messages go last, newest chat first.
func sortByLastMessage(chats []*Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].LastMessage, chats[j].LastMessage
		switch {
		case a != nil && b != nil:
			return a.after(b)
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		}
	})
}

// otherMembers is every participant except the author.
func otherMembers(c *Chat, authorID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range dedupe(c.ParticipantIDs) {
		if id != authorID {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func channelLabel(ch string) string {
	if ch == "socket" {
		return "socket"
	}
	return "rest"
}
