package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
)

type contextKey string

const UserKey contextKey = "user"

// Middleware authenticates REST calls with the shared Resolver. The resolved
// user is stored on the request context and its id under echo's "user_id"
// key for logging and rate limiting.
func Middleware(r *Resolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			u, err := r.Resolve(c.Request().Context(), c.Request().Header.Get("Authorization"))
			switch {
			case errors.Is(err, ErrNoAuthorizationHeader):
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			case errors.Is(err, ErrInvalidCredentials):
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			case err != nil:
				return echo.NewHTTPError(http.StatusInternalServerError, "identity lookup failed")
			}

			c.Set("user_id", u.ID.String())
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
			return next(c)
		}
	}
}

func WithUser(ctx context.Context, u *identity.User) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

func UserFromContext(ctx context.Context) *identity.User {
	u, _ := ctx.Value(UserKey).(*identity.User)
	return u
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return uuid.Nil
}

func RolesFromContext(ctx context.Context) []string {
	if u := UserFromContext(ctx); u != nil && u.Role != "" {
		return []string{u.Role}
	}
	return nil
}
