package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin     = "admin"
	RoleMedic     = "medic"
	RoleAssistant = "assistant"
	RolePatient   = "patient"
)

// User is an account in the staff/patient directory.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Lastname       string    `db:"lastname" json:"lastname"`
	Email          string    `db:"email" json:"email"`
	Identification string    `db:"identification" json:"identification"`
	Role           string    `db:"role" json:"role"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DisplayName is "<name> <lastname>", trimmed when the last name is blank.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.Name + " " + u.Lastname)
}

type Employee struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	User   *User     `json:"user,omitempty"`
}

type Hospital struct {
	Name string `json:"name"`
}

// Patient carries the care-team assignment used by panic escalation.
type Patient struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	User          *User     `json:"user,omitempty"`
	Age           *int      `db:"age" json:"age,omitempty"`
	Sex           *string   `db:"sex" json:"sex,omitempty"`
	Address       *string   `db:"address" json:"address,omitempty"`
	PersonalPhone *string   `db:"personal_phone" json:"personal_phone,omitempty"`
	HomePhone     *string   `db:"home_phone" json:"home_phone,omitempty"`
	Hospital      *Hospital `db:"hospital" json:"hospital,omitempty"`
	Medic         *Employee `json:"medic,omitempty"`
	Assistant     *Employee `json:"assistant,omitempty"`
}

// IsStaff reports whether the user works for the hospital rather than being
// a patient.
func (u *User) IsStaff() bool {
	switch u.Role {
	case RoleAdmin, RoleMedic, RoleAssistant:
		return true
	}
	return false
}
