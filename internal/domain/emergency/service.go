package emergency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/domain/notification"
	"github.com/healtrack/healtrack/internal/platform/mailer"
	"github.com/healtrack/healtrack/internal/platform/metrics"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrNoStaffAssigned = errors.New("patient has no medic or assistant assigned")
	errNoEmail         = errors.New("staff member has no email address")
)

// Notifier creates a notification and publishes the new unread count.
type Notifier interface {
	Create(ctx context.Context, n *notification.Notification) error
}

type Service struct {
	directory     identity.Directory
	notifications Notifier
	mail          mailer.EmailSender
	templates     *mailer.TemplateEngine
	logger        zerolog.Logger
}

func NewService(
	directory identity.Directory,
	notifications Notifier,
	mail mailer.EmailSender,
	templates *mailer.TemplateEngine,
	logger zerolog.Logger,
) *Service {
	return &Service{
		directory:     directory,
		notifications: notifications,
		mail:          mail,
		templates:     templates,
		logger:        logger,
	}
}

type target struct {
	name     string
	employee *identity.Employee
}

// Trigger alerts the patient's assistant and medic. Each staff member gets an
// in-app notification and an email; every delivery is attempted even when an
// earlier one fails. The returned error is non-nil only when the patient is
// unknown, has no staff assigned, or no delivery reached anyone.
func (s *Service) Trigger(ctx context.Context, patientUserID uuid.UUID) (*Result, error) {
	patient, err := s.directory.GetPatientByUserID(ctx, patientUserID)
	if err != nil {
		if errors.Is(err, identity.ErrPatientNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	var targets []target
	if patient.Assistant != nil {
		targets = append(targets, target{TargetAssistant, patient.Assistant})
	}
	if patient.Medic != nil {
		targets = append(targets, target{TargetMedic, patient.Medic})
	}
	if len(targets) == 0 {
		return nil, ErrNoStaffAssigned
	}

	metrics.PanicAlerts.Inc()
	res := &Result{AlertID: uuid.New(), PatientID: patient.ID}
	data := newAlertData(patient)
	log := s.logger.With().
		Str("alert_id", res.AlertID.String()).
		Str("patient_id", patient.ID.String()).
		Logger()
	log.Warn().Int("staff", len(targets)).Msg("panic button triggered")

	var errs []error
	for _, t := range targets {
		d := s.deliver(ctx, log, res.AlertID, patient, t, data)
		res.Deliveries = append(res.Deliveries, d)
		if !d.Delivered() {
			errs = append(errs, fmt.Errorf("%s: %s; %s", t.name, d.NotificationError, d.MailError))
		}
	}
	if len(errs) == len(targets) {
		return res, fmt.Errorf("panic alert not delivered: %w", errors.Join(errs...))
	}
	return res, nil
}

func (s *Service) deliver(ctx context.Context, log zerolog.Logger, alertID uuid.UUID, patient *identity.Patient, t target, data alertData) Delivery {
	d := Delivery{Target: t.name, EmployeeID: t.employee.ID, UserID: t.employee.UserID}
	log = log.With().Str("target", t.name).Str("employee_id", t.employee.ID.String()).Logger()

	staff := t.employee.User
	if staff == nil {
		u, err := s.directory.GetUser(ctx, t.employee.UserID)
		if err != nil {
			log.Error().Err(err).Msg("failed to resolve staff user")
		}
		staff = u
	}

	employeeID, patientID := t.employee.ID, patient.ID
	n := &notification.Notification{
		Kind:        notification.KindEmployee,
		Title:       alertTitle,
		Message:     data.notificationBody(),
		RecipientID: t.employee.UserID,
		EmployeeID:  &employeeID,
		PatientID:   &patientID,
		AlertID:     &alertID,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		log.Error().Err(err).Msg("failed to create panic notification")
		d.NotificationError = err.Error()
	} else {
		d.NotificationID = &n.ID
	}

	if err := s.sendMail(ctx, staff, data); err != nil {
		log.Error().Err(err).Msg("failed to send panic email")
		d.MailError = err.Error()
	} else {
		d.MailSent = true
	}
	return d
}

func (s *Service) sendMail(ctx context.Context, staff *identity.User, data alertData) error {
	if staff == nil || staff.Email == "" {
		return errNoEmail
	}
	data.StaffName = staff.DisplayName()
	msg, err := s.templates.Render(alertTemplate, staff.Email, data)
	if err != nil {
		return err
	}
	return s.mail.SendEmail(ctx, msg)
}
