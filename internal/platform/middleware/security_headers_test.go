package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_API(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := SecurityHeaders()(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSecurityHeaders_UploadsCacheable(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/chats/abc/01J.png", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	SecurityHeaders()(okHandler)(c)

	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=86400" {
		t.Errorf("expected cacheable uploads, got %q", got)
	}
}
