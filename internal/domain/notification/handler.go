package notification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/auth"
	"github.com/healtrack/healtrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")

	// Any authenticated user; ownership is checked per row.
	g.GET("/count/unread", h.CountUnread)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Remove)
	g.PATCH("/mark-as-read/:id", h.MarkRead)

	self := auth.RequireSelfOrRole("userId", identity.RoleMedic, identity.RoleAssistant)
	g.GET("/recipient/:userId", h.ListForRecipient, self)
	g.DELETE("/recipient/:userId", h.RemoveAllForRecipient, self)

	staff := g.Group("", auth.RequireRole(identity.RoleMedic, identity.RoleAssistant))
	staff.POST("", h.Create)
	staff.GET("", h.ListActive)
	staff.GET("/complete", h.ListAll)
	staff.GET("/panic-button-counts", h.PanicCounts)
	staff.PATCH("/:id", h.Update)

	admin := g.Group("", auth.RequireRole(identity.RoleAdmin))
	admin.DELETE("/remove-all-deleted", h.PurgeDeleted)
}

type createRequest struct {
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	RecipientID *uuid.UUID `json:"recipient_id"`
	EmployeeID  *uuid.UUID `json:"employee_id"`
	PatientID   *uuid.UUID `json:"patient_id"`
}

type updateRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type countResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Count  int       `json:"count"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n := &Notification{
		Kind:       req.Kind,
		Title:      req.Title,
		Message:    req.Message,
		EmployeeID: req.EmployeeID,
		PatientID:  req.PatientID,
	}
	if req.RecipientID != nil {
		n.RecipientID = *req.RecipientID
	}
	if err := h.svc.Create(c.Request().Context(), n); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListActive(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListActive(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAll(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAll(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListForRecipient(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForRecipient(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// CountUnread answers for ?userId= or, when absent, for the caller.
func (h *Handler) CountUnread(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if q := c.QueryParam("userId"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
		}
		userID = id
	}
	if !canAccess(c, userID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot read another user's notifications")
	}
	n, err := h.svc.CountUnread(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, countResponse{UserID: userID, Count: n})
}

func (h *Handler) PanicCounts(c echo.Context) error {
	counts, err := h.svc.PanicCounts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if counts == nil {
		counts = []PanicCount{}
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.Update(c.Request().Context(), id, req.Title, req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkRead(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	n, err = h.svc.MarkRead(c.Request().Context(), n.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Remove(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), n.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RemoveAllForRecipient(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
	}
	n, err := h.svc.RemoveAllForRecipient(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": n})
}

func (h *Handler) PurgeDeleted(c echo.Context) error {
	n, err := h.svc.PurgeDeleted(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"purged": n})
}

// owned loads :id and checks that the caller is its recipient or staff.
func (h *Handler) owned(c echo.Context) (*Notification, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if !canAccess(c, n.RecipientID) {
		return nil, echo.NewHTTPError(http.StatusNotFound, ErrNotificationNotFound.Error())
	}
	return n, nil
}

func canAccess(c echo.Context, userID uuid.UUID) bool {
	u := auth.UserFromContext(c.Request().Context())
	if u == nil {
		return false
	}
	return u.ID == userID || u.IsStaff()
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotificationNotFound), errors.Is(err, ErrRecipientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRecipientRequired), errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrMessageRequired), errors.Is(err, ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
