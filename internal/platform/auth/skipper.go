package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass the REST auth middleware. The websocket endpoint
// authenticates per event instead.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
	"/ws":        true,
}

func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

// IsPublicPath reports whether path skips REST authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/uploads/")
}
