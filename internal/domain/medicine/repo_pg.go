package medicine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrem/medrem/internal/platform/db"
)

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository {
	return &medicineRepoPG{pool: pool}
}

func (r *medicineRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medicineCols = `id, name, doses, patient_id, created_by, scheduled_date, total_quantity,
	image_url, start_date, end_date, status, created_at, updated_at`

func (r *medicineRepoPG) scan(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.Times, &m.PatientID, &m.CreatedBy, &m.ScheduledDate,
		&m.TotalQuantity, &m.ImageURL, &m.StartDate, &m.EndDate, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Times == nil {
		m.Times = []DoseEntry{}
	}
	return &m, nil
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicines (id, name, doses, patient_id, created_by, scheduled_date,
			total_quantity, image_url, start_date, end_date, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.ID, m.Name, m.Times, m.PatientID, m.CreatedBy, m.ScheduledDate,
		m.TotalQuantity, m.ImageURL, m.StartDate, m.EndDate, m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicines WHERE id = $1`, id))
}

func (r *medicineRepoPG) Update(ctx context.Context, m *Medicine) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicines SET name = $2, doses = $3, scheduled_date = $4, total_quantity = $5,
			image_url = $6, start_date = $7, end_date = $8, status = $9, updated_at = $10
		WHERE id = $1`,
		m.ID, m.Name, m.Times, m.ScheduledDate, m.TotalQuantity,
		m.ImageURL, m.StartDate, m.EndDate, m.Status, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medicine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicineCols+` FROM medicines
		WHERE patient_id = $1 ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Medicine
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *medicineRepoPG) CompleteExpired(ctx context.Context, patientID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicines SET status = 'completed', updated_at = $2
		WHERE patient_id = $1 AND status = 'active'
			AND end_date IS NOT NULL AND end_date < $2`, patientID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
