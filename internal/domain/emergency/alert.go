package emergency

import (
	"fmt"
	"strings"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/mailer"
)

const (
	alertTitle    = "Alerta de pánico"
	alertTemplate = "panic_alert"
	notSpecified  = "No especificado"
)

const alertSubject = `Alerta de pánico: {{.PatientName}}`

const alertText = `El paciente {{.PatientName}} ha presionado el botón de pánico.

Identificación: {{.Identification}}
Teléfono personal: {{.PersonalPhone}}
Teléfono de casa: {{.HomePhone}}
Dirección: {{.Address}}
Hospital: {{.Hospital}}

Por favor, comuníquese con el paciente lo antes posible.
`

const alertHTML = `<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif;">
  <h2 style="color: #c0392b;">Alerta de pánico</h2>
  <p>Estimado(a) {{.StaffName}},</p>
  <p>El paciente <strong>{{.PatientName}}</strong> ha presionado el botón de pánico.</p>
  <table cellpadding="4">
    <tr><td><strong>Identificación:</strong></td><td>{{.Identification}}</td></tr>
    <tr><td><strong>Teléfono personal:</strong></td><td>{{.PersonalPhone}}</td></tr>
    <tr><td><strong>Teléfono de casa:</strong></td><td>{{.HomePhone}}</td></tr>
    <tr><td><strong>Dirección:</strong></td><td>{{.Address}}</td></tr>
    <tr><td><strong>Hospital:</strong></td><td>{{.Hospital}}</td></tr>
  </table>
  <p>Por favor, comuníquese con el paciente lo antes posible.</p>
</body>
</html>`

// RegisterTemplates adds the panic alert template to e.
func RegisterTemplates(e *mailer.TemplateEngine) {
	e.MustRegister(alertTemplate, alertSubject, alertText, alertHTML)
}

// alertData is the view of a patient used by both the notification body and
// the email.
type alertData struct {
	StaffName      string
	PatientName    string
	Identification string
	PersonalPhone  string
	HomePhone      string
	Address        string
	Hospital       string
}

func newAlertData(p *identity.Patient) alertData {
	d := alertData{
		PersonalPhone: orNotSpecified(p.PersonalPhone),
		HomePhone:     orNotSpecified(p.HomePhone),
		Address:       orNotSpecified(p.Address),
		Hospital:      notSpecified,
	}
	if p.User != nil {
		d.PatientName = p.User.DisplayName()
		d.Identification = p.User.Identification
	}
	if d.PatientName == "" {
		d.PatientName = p.UserID.String()
	}
	if d.Identification == "" {
		d.Identification = notSpecified
	}
	if p.Hospital != nil && p.Hospital.Name != "" {
		d.Hospital = p.Hospital.Name
	}
	return d
}

// notificationBody is the in-app text of the alert.
func (d alertData) notificationBody() string {
	return fmt.Sprintf("El paciente %s (identificación %s) ha presionado el botón de pánico. Teléfono: %s. Dirección: %s. Hospital: %s.",
		d.PatientName, d.Identification, d.PersonalPhone, d.Address, d.Hospital)
}

func orNotSpecified(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return notSpecified
	}
	return *s
}
