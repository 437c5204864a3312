package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers shared by every API route.
// Attachment downloads under /uploads may be cached by the browser; API
// responses carry patient data and may not.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")

			if strings.HasPrefix(c.Request().URL.Path, "/uploads/") {
				h.Set("Cache-Control", "private, max-age=86400")
			} else {
				h.Set("Cache-Control", "no-store")
			}

			return next(c)
		}
	}
}
