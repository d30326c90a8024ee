package medicine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/domain/identity"
	"github.com/medrem/medrem/internal/domain/notification"
	"github.com/medrem/medrem/internal/platform/apperr"
	"github.com/medrem/medrem/internal/platform/blobstore"
)

// PatientDirectory looks up users by id.
type PatientDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// MissedDoseNotifier fans a missed dose out to caregivers.
type MissedDoseNotifier interface {
	NotifyMissedDose(ctx context.Context, dose notification.MissedDose) ([]*notification.Notification, error)
}

type Service struct {
	medicines   MedicineRepository
	users       PatientDirectory
	notifier    MissedDoseNotifier
	images      blobstore.ImageStore
	logger      zerolog.Logger
	strictMatch bool
	now         func() time.Time
}

func NewService(medicines MedicineRepository, users PatientDirectory, notifier MissedDoseNotifier, logger zerolog.Logger) *Service {
	return &Service{
		medicines: medicines,
		users:     users,
		notifier:  notifier,
		logger:    logger.With().Str("component", "medicine").Logger(),
		now:       time.Now,
	}
}

func (s *Service) SetImageStore(images blobstore.ImageStore) {
	s.images = images
}

// SetStrictDoseMatch makes a dose time with no scheduled entry a not-found
// error instead of a silent no-op.
func (s *Service) SetStrictDoseMatch(strict bool) {
	s.strictMatch = strict
}

type CreateMedicineInput struct {
	Name          string
	Times         []string
	PatientID     uuid.UUID
	CreatedBy     uuid.UUID
	ScheduledDate string
	TotalQuantity *int
	StartDate     string
	EndDate       string
}

func (s *Service) CreateMedicine(ctx context.Context, in CreateMedicineInput) (*Medicine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patientId is required")
	}
	if in.CreatedBy == uuid.Nil {
		return nil, apperr.Validation("createdBy is required")
	}
	if len(in.Times) == 0 {
		return nil, apperr.Validation("at least one dose time is required")
	}
	times, err := normalizeTimes(in.Times)
	if err != nil {
		return nil, err
	}

	m := &Medicine{
		Name:          name,
		Times:         pendingEntries(times),
		PatientID:     in.PatientID,
		CreatedBy:     in.CreatedBy,
		ScheduledDate: utcDate(s.now()),
		Status:        StatusActive,
	}
	if in.ScheduledDate != "" {
		d, err := time.Parse(dateLayout, in.ScheduledDate)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("scheduledDate must be YYYY-MM-DD, got %q", in.ScheduledDate))
		}
		m.ScheduledDate = utcDate(d)
	}
	if in.TotalQuantity != nil {
		if *in.TotalQuantity < 0 {
			return nil, apperr.Validation("totalQuantity must not be negative")
		}
		m.TotalQuantity = *in.TotalQuantity
	}
	if in.StartDate != "" {
		start, err := parseDate("startDate", in.StartDate)
		if err != nil {
			return nil, err
		}
		start = start.UTC()
		m.StartDate = &start
	}
	if in.EndDate != "" {
		end, err := parseDate("endDate", in.EndDate)
		if err != nil {
			return nil, err
		}
		end = endOfDay(end)
		m.EndDate = &end
	}

	patient, err := s.patient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if patient.Role != identity.RolePatient {
		return nil, apperr.Validation("patientId must refer to a patient")
	}
	if _, err := s.users.GetUser(ctx, in.CreatedBy); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("Creator not found")
		}
		return nil, err
	}

	if err := s.medicines.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create medicine: %w", err)
	}
	s.logger.Info().
		Str("medicine_id", m.ID.String()).
		Str("patient_id", m.PatientID.String()).
		Int("doses", len(m.Times)).
		Msg("medicine created")
	return m, nil
}

type UpdateMedicineInput struct {
	Name          *string
	Times         []string
	TotalQuantity *int
	ImageURL      *string
}

func (s *Service) UpdateMedicine(ctx context.Context, id uuid.UUID, in UpdateMedicineInput) (*Medicine, error) {
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		m.Name = strings.TrimSpace(*in.Name)
	}
	if in.TotalQuantity != nil {
		if *in.TotalQuantity < 0 {
			return nil, apperr.Validation("totalQuantity must not be negative")
		}
		m.TotalQuantity = *in.TotalQuantity
	}
	if in.ImageURL != nil {
		m.ImageURL = in.ImageURL
		if *in.ImageURL == "" {
			m.ImageURL = nil
		}
	}
	if in.Times != nil {
		if len(in.Times) == 0 {
			return nil, apperr.Validation("at least one dose time is required")
		}
		times, err := normalizeTimes(in.Times)
		if err != nil {
			return nil, err
		}
		m.Times = reconcileTimes(m.Times, times)
	}

	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) DeleteMedicine(ctx context.Context, id uuid.UUID) error {
	err := s.medicines.Delete(ctx, id)
	if errors.Is(err, ErrMedicineNotFound) {
		return apperr.NotFound("Medicine not found")
	}
	if err != nil {
		return fmt.Errorf("delete medicine: %w", err)
	}
	s.logger.Info().Str("medicine_id", id.String()).Msg("medicine deleted")
	return nil
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	m, err := s.medicines.GetByID(ctx, id)
	if errors.Is(err, ErrMedicineNotFound) {
		return nil, apperr.NotFound("Medicine not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get medicine: %w", err)
	}
	return m, nil
}

// ListMedicines completes the patient's expired medicines, then returns all
// of the patient's medicines oldest first.
func (s *Service) ListMedicines(ctx context.Context, patientID uuid.UUID) ([]*Medicine, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patientId is required")
	}
	n, err := s.medicines.CompleteExpired(ctx, patientID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("expire medicines: %w", err)
	}
	if n > 0 {
		s.logger.Info().Str("patient_id", patientID.String()).Int64("completed", n).Msg("expired medicines completed")
	}

	out, err := s.medicines.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	if out == nil {
		out = []*Medicine{}
	}
	return out, nil
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Status = StatusCompleted
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AttachImage uploads content to the image store and records its URL on the
// medicine.
func (s *Service) AttachImage(ctx context.Context, id uuid.UUID, fileName string, content io.Reader) (*Medicine, error) {
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := blobstore.ImageFormat(fileName); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if s.images == nil {
		return nil, apperr.External("Image storage is not configured", nil)
	}

	img, err := s.images.Upload(ctx, blobstore.ImageMetadata{FileName: fileName, Folder: m.ID.String()}, content)
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge), errors.Is(err, blobstore.ErrInvalidContentType):
		return nil, apperr.Validation(err.Error())
	case err != nil:
		return nil, apperr.External("Failed to upload image", err)
	}

	m.ImageURL = &img.URL
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info().Str("medicine_id", m.ID.String()).Int64("bytes", img.Size).Msg("medicine image attached")
	return m, nil
}

func (s *Service) save(ctx context.Context, m *Medicine) error {
	err := s.medicines.Update(ctx, m)
	if errors.Is(err, ErrMedicineNotFound) {
		return apperr.NotFound("Medicine not found")
	}
	if err != nil {
		return fmt.Errorf("update medicine: %w", err)
	}
	return nil
}

func (s *Service) patient(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("Patient not found")
	}
	return u, err
}
