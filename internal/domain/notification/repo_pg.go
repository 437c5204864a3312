package notification

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healtrack/healtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const notificationCols = `id, kind, title, message, recipient_id, employee_id, patient_id, alert_id,
	is_read, created_at, deleted_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Kind, &n.Title, &n.Message, &n.RecipientID, &n.EmployeeID,
		&n.PatientID, &n.AlertID, &n.IsRead, &n.CreatedAt, &n.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (id, kind, title, message, recipient_id, employee_id, patient_id, alert_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING is_read, created_at`,
		n.ID, n.Kind, n.Title, n.Message, n.RecipientID, n.EmployeeID, n.PatientID, n.AlertID,
	).Scan(&n.IsRead, &n.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) Update(ctx context.Context, n *Notification) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET title = $2, message = $3
		WHERE id = $1 AND deleted_at IS NULL`,
		n.ID, n.Title, n.Message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, where string, args []any, limit, offset int) ([]*Notification, int, error) {
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, `SELECT `+notificationCols+` FROM notifications `+where+`
		ORDER BY created_at DESC, id
		LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListActive(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx, `WHERE deleted_at IS NULL`, nil, limit, offset)
}

func (r *repoPG) ListAll(ctx context.Context, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx, ``, nil, limit, offset)
}

func (r *repoPG) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx, `WHERE recipient_id = $1 AND deleted_at IS NULL`, []any{recipientID}, limit, offset)
}

func (r *repoPG) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE AND deleted_at IS NULL`, recipientID).Scan(&n)
	return n, err
}

func (r *repoPG) CountUnreadFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		out[id] = 0
	}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT recipient_id, COUNT(*) FROM notifications
		WHERE recipient_id = ANY($1) AND is_read = FALSE AND deleted_at IS NULL
		GROUP BY recipient_id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, deleted_at = COALESCE(deleted_at, NOW())
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *repoPG) SoftDeleteAllForRecipient(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, deleted_at = NOW()
		WHERE recipient_id = $1 AND deleted_at IS NULL`, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) PurgeSoftDeleted(ctx context.Context) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM notifications WHERE deleted_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) PanicCounts(ctx context.Context) ([]PanicCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT p.id, u.id, u.name, u.lastname, u.identification, COUNT(DISTINCT n.alert_id)
		FROM patients p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN notifications n
			ON n.patient_id = p.id AND n.alert_id IS NOT NULL AND n.deleted_at IS NULL
		GROUP BY p.id, u.id
		ORDER BY COUNT(DISTINCT n.alert_id) DESC, u.lastname, u.name, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PanicCount
	for rows.Next() {
		var pc PanicCount
		if err := rows.Scan(&pc.PatientID, &pc.UserID, &pc.Name, &pc.Lastname, &pc.Identification, &pc.Count); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
