package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrPatientNotFound  = errors.New("patient not found")
)

// Directory is the read side of the user/employee/patient tables. Writes
// belong to the administration service.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// ListUsersByIDs returns the users that exist among ids, in no particular
	// order. Unknown ids are skipped.
	ListUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error)
	GetEmployeeByUserID(ctx context.Context, userID uuid.UUID) (*Employee, error)
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
}
