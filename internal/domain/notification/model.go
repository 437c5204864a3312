package notification

import (
	"time"

	"github.com/google/uuid"
)

// Kind separates staff alerts from chat message alerts.
type Kind string

const (
	KindEmployee Kind = "employee"
	KindMessage  Kind = "message"
)

// EventUnreadCount carries a map of user id to unread count.
const EventUnreadCount = "unread_notifications_count"

type Notification struct {
	ID          uuid.UUID  `json:"id"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	EmployeeID  *uuid.UUID `json:"employee_id,omitempty"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	AlertID     *uuid.UUID `json:"alert_id,omitempty"`
	IsRead      bool       `json:"is_read"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// PanicCount is the number of distinct panic alerts raised for a patient.
// Every patient is listed, including those with no alerts.
type PanicCount struct {
	PatientID      uuid.UUID `json:"patient_id"`
	UserID         uuid.UUID `json:"user_id"`
	Name           string    `json:"name"`
	Lastname       string    `json:"lastname"`
	Identification string    `json:"identification"`
	Count          int       `json:"count"`
}
