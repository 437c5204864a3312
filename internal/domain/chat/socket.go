package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/blobstore"
	"github.com/healtrack/healtrack/internal/platform/websocket"
)

// Exception texts sent back to the socket that raised the event.
const (
	msgChatNotFound       = "Chat no encontrado."
	msgNotParticipant     = "No perteneces a este chat."
	msgMessageRequired    = "El mensaje es obligatorio."
	msgInvalidChatID      = "Identificador de chat inválido."
	msgMalformedPayload   = "Contenido del mensaje inválido."
	msgInvalidAttachment  = "Archivo adjunto inválido."
	msgAttachmentTooLarge = "El archivo adjunto es demasiado grande."
)

// socketAttachment carries a file inline, base64 encoded.
type socketAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type socketMessage struct {
	Message    string            `json:"message"`
	ChatID     string            `json:"chatId"`
	Attachment *socketAttachment `json:"attachment"`
}

// RegisterSocketHandlers routes send_message and chat events into the send
// pipeline. Both events behave the same; the reply uses the inbound name.
func (s *Service) RegisterSocketHandlers(srv *websocket.Server) {
	srv.Handle(EventSendMessage, s.socketHandler(EventSendMessage))
	srv.Handle(EventChat, s.socketHandler(EventChat))
}

func (s *Service) socketHandler(event string) websocket.EventHandler {
	return func(ctx context.Context, _ *websocket.Client, user *identity.User, data json.RawMessage) error {
		var in socketMessage
		if err := json.Unmarshal(data, &in); err != nil {
			return websocket.NewException(msgMalformedPayload)
		}
		chatID, err := uuid.Parse(in.ChatID)
		if err != nil {
			return websocket.NewException(msgInvalidChatID)
		}

		send := SendInput{ChatID: chatID, Message: in.Message, Event: event, Channel: "socket"}
		if in.Attachment != nil {
			raw, err := base64.StdEncoding.DecodeString(in.Attachment.Data)
			if err != nil || len(raw) == 0 {
				return websocket.NewException(msgInvalidAttachment)
			}
			send.Attachment = &Upload{Name: in.Attachment.Name, Content: bytes.NewReader(raw)}
		}

		_, err = s.SendMessage(ctx, user, send)
		return socketError(err)
	}
}

func socketError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrChatNotFound):
		return websocket.NewException(msgChatNotFound)
	case errors.Is(err, ErrNotParticipant):
		return websocket.NewException(msgNotParticipant)
	case errors.Is(err, ErrMessageRequired):
		return websocket.NewException(msgMessageRequired)
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return websocket.NewException(msgAttachmentTooLarge)
	case errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrEmptyFile),
		errors.Is(err, blobstore.ErrInvalidPath):
		return websocket.NewException(msgInvalidAttachment)
	default:
		return err
	}
}
