// Package websocket is the real-time channel. A Hub tracks connections, the
// user each connection is bound to and the rooms it has joined; emits are
// JSON frames {"event": ..., "data": ...} delivered to every connection that
// matches the audience. An optional Relay fans emits out across instances.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/metrics"
)

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Audience selects the connections an emit is delivered to. All wins over
// Rooms and Users; a connection matching several entries receives the frame
// once.
type Audience struct {
	All   bool        `json:"all,omitempty"`
	Rooms []string    `json:"rooms,omitempty"`
	Users []uuid.UUID `json:"users,omitempty"`
}

// Broadcaster is the process-wide emitter handed to services.
type Broadcaster interface {
	Emit(event string, payload any)
	EmitToUser(userID uuid.UUID, event string, payload any)
	EmitToRoom(room string, event string, payload any)
	EmitTo(aud Audience, event string, payload any)
	ConnectedUsers() []uuid.UUID
}

// Relay carries encoded envelopes to every instance, this one included.
type Relay interface {
	Publish(ctx context.Context, envelope []byte) error
}

type envelope struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Audience Audience        `json:"audience"`
}

const relayPublishTimeout = 2 * time.Second

// Client is a single websocket connection.
type Client struct {
	ID   string
	Send chan []byte

	authHeader string
	user       atomic.Pointer[identity.User]
	rooms      map[string]struct{} // guarded by Hub.mu
}

func newClient(authHeader string, buffer int) *Client {
	return &Client{
		ID:         uuid.NewString(),
		Send:       make(chan []byte, buffer),
		authHeader: authHeader,
		rooms:      make(map[string]struct{}),
	}
}

// User returns the user the connection is bound to, or nil.
func (c *Client) User() *identity.User {
	return c.user.Load()
}

// Hub is the connection registry. All operations are safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	all   map[*Client]struct{}
	rooms map[string]map[*Client]struct{}
	users map[uuid.UUID]map[*Client]struct{}

	relay  Relay
	logger zerolog.Logger
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		all:    make(map[*Client]struct{}),
		rooms:  make(map[string]map[*Client]struct{}),
		users:  make(map[uuid.UUID]map[*Client]struct{}),
		logger: logger,
	}
}

// SetRelay routes emits through r. Must be called before serving.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	if u := c.User(); u != nil {
		addTo(h.users, u.ID, c)
	}
}

// Unregister removes the client from every index and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for room := range c.rooms {
		removeFrom(h.rooms, room, c)
	}
	if u := c.User(); u != nil {
		removeFrom(h.users, u.ID, c)
	}
	delete(h.all, c)
	close(c.Send)
}

// Bind attaches a user to the connection. It reports false when the
// connection was already bound.
func (h *Hub) Bind(c *Client, u *identity.User) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.user.CompareAndSwap(nil, u) {
		return false
	}
	if _, ok := h.all[c]; ok {
		addTo(h.users, u.ID, c)
	}
	return true
}

func (h *Hub) Join(c *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, room := range rooms {
		addTo(h.rooms, room, c)
		c.rooms[room] = struct{}{}
	}
}

func (h *Hub) Leave(c *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range rooms {
		removeFrom(h.rooms, room, c)
		delete(c.rooms, room)
	}
}

// JoinUser adds every connection of userID to room. Used when a chat is
// created so its participants start receiving its events without reconnecting.
func (h *Hub) JoinUser(userID uuid.UUID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.users[userID] {
		addTo(h.rooms, room, c)
		c.rooms[room] = struct{}{}
	}
}

func (h *Hub) Emit(event string, payload any) {
	h.EmitTo(Audience{All: true}, event, payload)
}

func (h *Hub) EmitToUser(userID uuid.UUID, event string, payload any) {
	h.EmitTo(Audience{Users: []uuid.UUID{userID}}, event, payload)
}

func (h *Hub) EmitToRoom(room string, event string, payload any) {
	h.EmitTo(Audience{Rooms: []string{room}}, event, payload)
}

// EmitTo encodes payload once and delivers it to aud, through the relay when
// one is configured. A relay failure falls back to local delivery.
func (h *Hub) EmitTo(aud Audience, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("websocket: failed to marshal payload")
		return
	}
	env := envelope{Event: event, Data: data, Audience: aud}

	if h.relay != nil {
		raw, err := json.Marshal(env)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
			err = h.relay.Publish(ctx, raw)
			cancel()
			if err == nil {
				return
			}
		}
		h.logger.Warn().Err(err).Str("event", event).Msg("websocket: relay publish failed, delivering locally")
	}
	h.deliver(env)
}

// deliverRaw handles an envelope received from the relay.
func (h *Hub) deliverRaw(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn().Err(err).Msg("websocket: discarding malformed relay envelope")
		return
	}
	h.deliver(env)
}

func (h *Hub) deliver(env envelope) int {
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", env.Event).Msg("websocket: failed to marshal frame")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.all
	if !env.Audience.All {
		targets = make(map[*Client]struct{})
		for _, room := range env.Audience.Rooms {
			for c := range h.rooms[room] {
				targets[c] = struct{}{}
			}
		}
		for _, id := range env.Audience.Users {
			for c := range h.users[id] {
				targets[c] = struct{}{}
			}
		}
	}

	n := 0
	for c := range targets {
		if h.enqueue(c, frame) {
			n++
		}
	}
	metrics.WSEventsOut.WithLabelValues(env.Event).Add(float64(n))
	return n
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		// Client buffer full; skip to avoid blocking.
		metrics.WSDropped.Inc()
		return false
	}
}

// SendTo writes one frame to a single connection.
func (h *Hub) SendTo(c *Client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("websocket: failed to marshal payload")
		return
	}
	frame, _ := json.Marshal(Frame{Event: event, Data: data})

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[c]; ok {
		h.enqueue(c, frame)
		metrics.WSEventsOut.WithLabelValues(event).Inc()
	}
}

// ConnectedUsers returns the ids of users with at least one bound connection
// on this instance.
func (h *Hub) ConnectedUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.users))
	for id := range h.users {
		out = append(out, id)
	}
	return out
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of clients in room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func addTo[K comparable](idx map[K]map[*Client]struct{}, key K, c *Client) {
	if idx[key] == nil {
		idx[key] = make(map[*Client]struct{})
	}
	idx[key][c] = struct{}{}
}

func removeFrom[K comparable](idx map[K]map[*Client]struct{}, key K, c *Client) {
	if set, ok := idx[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
