package medicine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMedicineNotFound = errors.New("medicine not found")

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	// Update writes every mutable field of m. Concurrent updates are
	// last-write-wins.
	Update(ctx context.Context, m *Medicine) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByPatient returns the patient's medicines, oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medicine, error)
	// CompleteExpired marks the patient's active medicines whose end date is
	// before now as completed and returns how many changed.
	CompleteExpired(ctx context.Context, patientID uuid.UUID, now time.Time) (int64, error)
}
