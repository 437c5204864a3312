package emergency

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the panic button. A patient may only raise an
// alert for themselves; admins may raise it on a patient's behalf.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:userId/panic-button", h.Trigger, auth.RequireSelfOrRole("userId", identity.RoleAdmin))
}

func (h *Handler) Trigger(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
	}
	res, err := h.svc.Trigger(c.Request().Context(), userID)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoStaffAssigned):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil && res != nil:
		return c.JSON(http.StatusBadGateway, res)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, res)
}
