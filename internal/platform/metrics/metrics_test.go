package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/v1/chats/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/chats/:id", "204"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats/0b0e7c8e-9a8e-4c59-9d0b-2f1c1f2a3b4c", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/chats/:id", "204"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestMiddleware_RecordsHTTPErrorStatus(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/v1/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Chat not found.")
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/missing", "404"))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/missing", "404"))

	if after-before != 1 {
		t.Errorf("expected 404 to be recorded, got delta %v", after-before)
	}
}

func TestHandler_Exposition(t *testing.T) {
	PanicAlerts.Inc()

	e := echo.New()
	e.GET("/metrics", Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healtrack_panic_alerts_total") {
		t.Error("expected panic counter in exposition output")
	}
}
