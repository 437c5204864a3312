package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/healtrack/healtrack/internal/domain/identity"
)

func contextAs(role string) (echo.Context, *httptest.ResponseRecorder, *identity.User) {
	e := echo.New()
	u := testUser(role)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), u))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec, u
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec, _ := contextAs(identity.RoleMedic)

	if err := RequireRole(identity.RoleMedic, identity.RoleAssistant)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c, _, _ := contextAs(identity.RolePatient)

	err := RequireRole(identity.RoleMedic, identity.RoleAssistant)(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _, _ := contextAs(identity.RoleAdmin)
	if err := RequireRole(identity.RoleMedic)(okHandler)(c); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_NoUser(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := RequireRole(identity.RoleMedic)(okHandler)(c); err == nil {
		t.Error("expected anonymous request to be rejected")
	}
}

func TestRequireSelfOrRole(t *testing.T) {
	c, _, u := contextAs(identity.RolePatient)
	c.SetParamNames("userId")
	c.SetParamValues(u.ID.String())
	if err := RequireSelfOrRole("userId", identity.RoleMedic)(okHandler)(c); err != nil {
		t.Errorf("expected self access to pass, got %v", err)
	}

	other, _, _ := contextAs(identity.RolePatient)
	other.SetParamNames("userId")
	other.SetParamValues(u.ID.String())
	if err := RequireSelfOrRole("userId", identity.RoleMedic)(okHandler)(other); err == nil {
		t.Error("expected another patient to be rejected")
	}
}

func TestRequireSelfOrRole_UpperCaseID(t *testing.T) {
	c, _, u := contextAs(identity.RolePatient)
	c.SetParamNames("userId")
	c.SetParamValues(strings.ToUpper(u.ID.String()))
	if err := RequireSelfOrRole("userId", identity.RoleMedic)(okHandler)(c); err != nil {
		t.Errorf("expected self access with an upper case id to pass, got %v", err)
	}
}

func TestRequireSelfOrRole_InvalidID(t *testing.T) {
	c, _, _ := contextAs(identity.RolePatient)
	c.SetParamNames("userId")
	c.SetParamValues("not-a-uuid")
	if err := RequireSelfOrRole("userId", identity.RoleMedic)(okHandler)(c); err == nil {
		t.Error("expected an unparsable id to fall back to the role check")
	}
}
