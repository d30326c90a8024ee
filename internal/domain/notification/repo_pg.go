package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrem/medrem/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const notificationCols = `id, user_id, medicine_id, patient_id, message, read, created_at`

func (r *notificationRepoPG) scan(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.MedicineID, &n.PatientID, &n.Message, &n.Read, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, user_id, medicine_id, patient_id, message, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.UserID, n.MedicineID, n.PatientID, n.Message, n.Read, n.CreatedAt)
	return err
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *notificationRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1
		RETURNING `+notificationCols, id))
}
