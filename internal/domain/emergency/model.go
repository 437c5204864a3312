package emergency

import (
	"github.com/google/uuid"
)

// Staff roles an alert is delivered to, in delivery order.
const (
	TargetAssistant = "assistant"
	TargetMedic     = "medic"
)

// Delivery is the outcome of alerting one staff member. The notification and
// the email are attempted independently.
type Delivery struct {
	Target            string     `json:"target"`
	EmployeeID        uuid.UUID  `json:"employee_id"`
	UserID            uuid.UUID  `json:"user_id"`
	NotificationID    *uuid.UUID `json:"notification_id,omitempty"`
	NotificationError string     `json:"notification_error,omitempty"`
	MailSent          bool       `json:"mail_sent"`
	MailError         string     `json:"mail_error,omitempty"`
}

// Delivered reports whether at least one channel reached the staff member.
func (d Delivery) Delivered() bool {
	return d.NotificationID != nil || d.MailSent
}

// Result describes one panic alert across all assigned staff.
type Result struct {
	AlertID    uuid.UUID  `json:"alert_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	Deliveries []Delivery `json:"deliveries"`
}
