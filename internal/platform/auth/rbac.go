package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == identity.RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireSelfOrRole lets a user act on their own :param id, or anyone
// holding one of roles.
func RequireSelfOrRole(param string, roles ...string) echo.MiddlewareFunc {
	byRole := RequireRole(roles...)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withRole := byRole(next)
		return func(c echo.Context) error {
			self := UserIDFromContext(c.Request().Context())
			if id, err := uuid.Parse(c.Param(param)); err == nil && self != uuid.Nil && id == self {
				return next(c)
			}
			return withRole(c)
		}
	}
}
