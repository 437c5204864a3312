package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/auth"
	"github.com/healtrack/healtrack/internal/platform/metrics"
	"github.com/healtrack/healtrack/internal/platform/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultReadLimit  = 512 << 10
	defaultSendBuffer = 256

	// EventException is sent to a single connection when one of its events fails.
	EventException = "exception"
)

// Exception messages shown to socket clients.
const (
	msgNoAuthorization    = "No se encontró el encabezado de autorización."
	msgInvalidCredentials = "Credenciales inválidas."
	msgBadFrame           = "Formato de evento inválido."
	msgRateLimited        = "Demasiadas solicitudes, intenta de nuevo más tarde."
	msgInvalidRoom        = "Sala inválida."
	msgRoomForbidden      = "No tienes acceso a esta sala."
	msgInternal           = "Ocurrió un error al procesar la solicitud."
)

// Exception is an event failure whose message is safe to show to the client.
type Exception struct {
	Message string
}

func (e *Exception) Error() string { return e.Message }

func NewException(msg string) error {
	return &Exception{Message: msg}
}

// ExceptionPayload is the data of an exception frame.
type ExceptionPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// IdentityResolver maps an Authorization header value to a user.
type IdentityResolver interface {
	Resolve(ctx context.Context, header string) (*identity.User, error)
}

// RoomLookup lists the rooms a user belongs to.
type RoomLookup func(ctx context.Context, userID uuid.UUID) ([]string, error)

// EventHandler handles an authenticated inbound event.
type EventHandler func(ctx context.Context, c *Client, user *identity.User, data json.RawMessage) error

type ServerConfig struct {
	AllowedOrigins  []string
	ReadLimit       int64
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	// Rooms, when set, auto-joins bound connections and guards joinRoom for
	// rooms under RoomPrefix.
	Rooms      RoomLookup
	RoomPrefix string
}

// Server upgrades HTTP connections and routes inbound events.
type Server struct {
	hub      *Hub
	resolver IdentityResolver
	cfg      ServerConfig
	handlers map[string]EventHandler
	upgrader gorillawebsocket.Upgrader
	limits   *middleware.LimiterStore
	logger   zerolog.Logger
}

func NewServer(hub *Hub, resolver IdentityResolver, cfg ServerConfig, logger zerolog.Logger) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 5
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 20
	}

	s := &Server{
		hub:      hub,
		resolver: resolver,
		cfg:      cfg,
		handlers: make(map[string]EventHandler),
		limits: middleware.NewLimiterStore(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.EventsPerSecond,
			BurstSize:         cfg.EventBurst,
		}, time.Minute),
		logger: logger,
	}
	s.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handle registers h for event. The sender is resolved from the connection's
// credentials before every call.
func (s *Server) Handle(event string, h EventHandler) {
	s.handlers[event] = h
}

// Handles reports whether an event has a registered handler.
func (s *Server) Handles(event string) bool {
	_, ok := s.handlers[event]
	return ok
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", s.HandleConnect)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limits.Stop()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// HandleConnect upgrades the request and starts the client's pumps. A
// credential on the handshake binds the connection immediately; otherwise it
// is bound by the first authenticated event.
func (s *Server) HandleConnect(c echo.Context) error {
	req := c.Request()
	header := req.Header.Get("Authorization")
	if header == "" {
		if tok := c.QueryParam("token"); tok != "" {
			header = "Bearer " + tok
		}
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		return err
	}

	client := newClient(header, s.cfg.SendBuffer)
	s.hub.Register(client)
	metrics.WSConnections.Inc()
	s.logger.Info().Str("client_id", client.ID).Str("remote_ip", c.RealIP()).Msg("socket connected")

	ctx, cancel := context.WithCancel(context.Background())
	if header != "" {
		if user, err := s.resolver.Resolve(ctx, header); err == nil {
			s.bind(ctx, client, user)
		} else {
			s.logger.Debug().Err(err).Str("client_id", client.ID).Msg("handshake credential not accepted")
		}
	}

	go s.writePump(client, ws)
	go s.readPump(ctx, cancel, client, ws)
	return nil
}

func (s *Server) bind(ctx context.Context, c *Client, user *identity.User) {
	if !s.hub.Bind(c, user) || s.cfg.Rooms == nil {
		return
	}
	rooms, err := s.cfg.Rooms(ctx, user.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("socket room lookup failed")
		return
	}
	s.hub.Join(c, rooms...)
}

func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		cancel()
		s.hub.Unregister(client)
		ws.Close()
		metrics.WSConnections.Dec()
		s.logger.Info().Str("client_id", client.ID).Msg("socket disconnected")
	}()

	ws.SetReadLimit(s.cfg.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(ctx, client, message)
	}
}

func (s *Server) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		s.exception(c, msgBadFrame)
		return
	}
	metrics.WSEventsIn.WithLabelValues(s.eventLabel(f.Event)).Inc()

	if !s.limits.Allow(c.ID) {
		s.exception(c, msgRateLimited)
		return
	}

	switch f.Event {
	case "joinRoom":
		s.joinRoom(ctx, c, f.Data)
	case "leaveRoom":
		if room := parseRoom(f.Data); room != "" {
			s.hub.Leave(c, room)
		}
	default:
		h, ok := s.handlers[f.Event]
		if !ok {
			s.logger.Debug().Str("client_id", c.ID).Str("event", f.Event).Msg("ignoring unknown socket event")
			return
		}
		user, err := s.resolver.Resolve(ctx, c.authHeader)
		if err != nil {
			s.exception(c, exceptionMessage(err))
			return
		}
		s.bind(ctx, c, user)
		if err := h(ctx, c, user, f.Data); err != nil {
			s.logger.Warn().Err(err).Str("event", f.Event).Str("user_id", user.ID.String()).Msg("socket event failed")
			s.exception(c, exceptionMessage(err))
		}
	}
}

// eventLabel keeps client-chosen event names out of the metric label set.
func (s *Server) eventLabel(event string) string {
	if _, ok := s.handlers[event]; ok || event == "joinRoom" || event == "leaveRoom" {
		return event
	}
	return "unknown"
}

func (s *Server) joinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	room := parseRoom(data)
	if room == "" {
		s.exception(c, msgInvalidRoom)
		return
	}
	if s.cfg.Rooms != nil && s.cfg.RoomPrefix != "" && strings.HasPrefix(room, s.cfg.RoomPrefix) {
		user := c.User()
		if user == nil {
			s.exception(c, msgNoAuthorization)
			return
		}
		rooms, err := s.cfg.Rooms(ctx, user.ID)
		if err != nil {
			s.exception(c, msgInternal)
			return
		}
		if !contains(rooms, room) {
			s.exception(c, msgRoomForbidden)
			return
		}
	}
	s.hub.Join(c, room)
}

func (s *Server) exception(c *Client, msg string) {
	s.hub.SendTo(c, EventException, ExceptionPayload{Status: "error", Message: msg})
}

// parseRoom accepts either a bare JSON string or {"room": "..."}.
func parseRoom(data json.RawMessage) string {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		return strings.TrimSpace(room)
	}
	var obj struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return strings.TrimSpace(obj.Room)
	}
	return ""
}

func exceptionMessage(err error) string {
	var ex *Exception
	switch {
	case errors.As(err, &ex):
		return ex.Message
	case errors.Is(err, auth.ErrNoAuthorizationHeader):
		return msgNoAuthorization
	case errors.Is(err, auth.ErrInvalidCredentials):
		return msgInvalidCredentials
	default:
		return msgInternal
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
