package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/auth"
	"github.com/healtrack/healtrack/internal/platform/blobstore"
	"github.com/healtrack/healtrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chats")
	g.POST("", h.CreateChat)
	g.GET("", h.ListChats)
	g.GET("/exists/:userId1/:userId2", h.FindBetween)
	g.GET("/:id", h.GetChat)
	g.PATCH("/:id", h.UpdateChat)
	g.DELETE("/:id", h.DeleteChat)
	g.POST("/:id/messages", h.SendMessage)
	g.GET("/:id/messages", h.GetMessages)
}

type sendRequest struct {
	Message string `json:"message" form:"message"`
}

func (h *Handler) CreateChat(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	chat, err := h.svc.CreateChat(c.Request().Context(), user, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, chat)
}

// ListChats returns the caller's chats, most recent conversation first.
func (h *Handler) ListChats(c echo.Context) error {
	ctx := c.Request().Context()
	chats, err := h.svc.ListForUser(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	if chats == nil {
		chats = []*Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (h *Handler) GetChat(c echo.Context) error {
	chat, err := h.member(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chat)
}

func (h *Handler) UpdateChat(c echo.Context) error {
	chat, err := h.member(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateChat(c.Request().Context(), chat.ID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteChat is reserved to the chat's creator and admins.
func (h *Handler) DeleteChat(c echo.Context) error {
	chat, err := h.member(c)
	if err != nil {
		return err
	}
	user := auth.UserFromContext(c.Request().Context())
	if chat.CreatedByID != user.ID && user.Role != identity.RoleAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "only the creator can delete this chat")
	}
	if err := h.svc.DeleteChat(c.Request().Context(), chat.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// FindBetween answers with the chat both users share, or null. The caller
// must be one of the two users unless they are staff.
func (h *Handler) FindBetween(c echo.Context) error {
	a, err := uuid.Parse(c.Param("userId1"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId1")
	}
	b, err := uuid.Parse(c.Param("userId2"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId2")
	}
	if a == b {
		return echo.NewHTTPError(http.StatusBadRequest, "user ids must differ")
	}
	user := auth.UserFromContext(c.Request().Context())
	if user == nil || (user.ID != a && user.ID != b && !user.IsStaff()) {
		return echo.NewHTTPError(http.StatusForbidden, "you can only look up your own chats")
	}
	chat, err := h.svc.FindBetween(c.Request().Context(), a, b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, chat)
}

// SendMessage accepts multipart form data (message, optional file) or a JSON
// body with only the message.
func (h *Handler) SendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	in := SendInput{ChatID: id, Channel: "rest"}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		in.Message = c.FormValue("message")
		fh, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			f, err := fh.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			defer f.Close()
			in.Attachment = &Upload{Name: fh.Filename, Content: f}
		}
	} else {
		var req sendRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.Message = req.Message
	}

	m, err := h.svc.SendMessage(c.Request().Context(), user, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMessages(c echo.Context) error {
	chat, err := h.member(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	page, err := h.svc.GetMessages(c.Request().Context(), chat.ID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// member loads :id and checks that the caller belongs to the chat. Staff
// can read any chat.
func (h *Handler) member(c echo.Context) (*Chat, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	chat, err := h.svc.GetChat(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	user := auth.UserFromContext(c.Request().Context())
	if user == nil || (!chat.HasMember(user.ID) && !user.IsStaff()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Chat not found.")
	}
	return chat, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrChatNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Chat not found.")
	case errors.Is(err, ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrMessageRequired),
		errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrEmptyFile),
		errors.Is(err, blobstore.ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
