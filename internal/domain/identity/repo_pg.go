package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healtrack/healtrack/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

const userCols = `u.id, u.name, u.lastname, u.email, u.identification, u.role, u.created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Lastname, &u.Email, &u.Identification, &u.Role, &u.CreatedAt)
	return &u, err
}

func (r *directoryPG) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *directoryPG) ListUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

const employeeQuery = `SELECT e.id, e.user_id, ` + userCols + `
	FROM employees e JOIN users u ON u.id = e.user_id`

func scanEmployee(row pgx.Row) (*Employee, error) {
	var e Employee
	var u User
	err := row.Scan(&e.ID, &e.UserID, &u.ID, &u.Name, &u.Lastname, &u.Email, &u.Identification, &u.Role, &u.CreatedAt)
	e.User = &u
	return &e, err
}

func (r *directoryPG) GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error) {
	e, err := scanEmployee(db.Conn(ctx, r.pool).QueryRow(ctx, employeeQuery+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func (r *directoryPG) GetEmployeeByUserID(ctx context.Context, userID uuid.UUID) (*Employee, error) {
	e, err := scanEmployee(db.Conn(ctx, r.pool).QueryRow(ctx, employeeQuery+` WHERE e.user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee by user: %w", err)
	}
	return e, nil
}

// staffCols selects one optional employee plus its user from aliases e<n>/u<n>.
func staffCols(n string) string {
	return fmt.Sprintf(`e%[1]s.id, u%[1]s.id, u%[1]s.name, u%[1]s.lastname, u%[1]s.email,
		u%[1]s.identification, u%[1]s.role, u%[1]s.created_at`, n)
}

const patientQuery = `
	SELECT p.id, p.user_id, p.age, p.sex, p.address, p.personal_phone, p.home_phone,
		p.hospital->>'name', ` + userCols + `, `

type nullableStaff struct {
	EmployeeID                                  *uuid.UUID
	UserID                                      *uuid.UUID
	Name, Lastname, Email, Identification, Role *string
	CreatedAt                                   pgtype.Timestamptz
}

func (s *nullableStaff) dest() []any {
	return []any{&s.EmployeeID, &s.UserID, &s.Name, &s.Lastname, &s.Email, &s.Identification, &s.Role, &s.CreatedAt}
}

func (s *nullableStaff) employee() *Employee {
	if s.EmployeeID == nil || s.UserID == nil {
		return nil
	}
	u := &User{ID: *s.UserID, CreatedAt: s.CreatedAt.Time}
	if s.Name != nil {
		u.Name = *s.Name
	}
	if s.Lastname != nil {
		u.Lastname = *s.Lastname
	}
	if s.Email != nil {
		u.Email = *s.Email
	}
	if s.Identification != nil {
		u.Identification = *s.Identification
	}
	if s.Role != nil {
		u.Role = *s.Role
	}
	return &Employee{ID: *s.EmployeeID, UserID: *s.UserID, User: u}
}

func (r *directoryPG) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	q := patientQuery + staffCols("m") + `, ` + staffCols("a") + `
	FROM patients p
	JOIN users u ON u.id = p.user_id
	LEFT JOIN employees em ON em.id = p.medic_id
	LEFT JOIN users um ON um.id = em.user_id
	LEFT JOIN employees ea ON ea.id = p.assistant_id
	LEFT JOIN users ua ON ua.id = ea.user_id
	WHERE p.user_id = $1`

	var p Patient
	var u User
	var hospital *string
	var medic, assistant nullableStaff

	dest := []any{&p.ID, &p.UserID, &p.Age, &p.Sex, &p.Address, &p.PersonalPhone, &p.HomePhone, &hospital,
		&u.ID, &u.Name, &u.Lastname, &u.Email, &u.Identification, &u.Role, &u.CreatedAt}
	dest = append(dest, medic.dest()...)
	dest = append(dest, assistant.dest()...)

	err := db.Conn(ctx, r.pool).QueryRow(ctx, q, userID).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient by user: %w", err)
	}

	p.User = &u
	if hospital != nil {
		p.Hospital = &Hospital{Name: *hospital}
	}
	p.Medic = medic.employee()
	p.Assistant = assistant.employee()
	return &p, nil
}
