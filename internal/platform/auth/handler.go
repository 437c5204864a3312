package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts GET /me, which echoes back the resolved caller so
// clients can learn their own id for unread-count lookups.
func RegisterRoutes(api *echo.Group) {
	api.GET("/me", Me)
}

func Me(c echo.Context) error {
	u := UserFromContext(c.Request().Context())
	if u == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	return c.JSON(http.StatusOK, u)
}
