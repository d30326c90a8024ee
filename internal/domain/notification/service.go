package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/domain/identity"
	"github.com/medrem/medrem/internal/platform/apperr"
)

// CaregiverDirectory resolves a patient's linked users.
type CaregiverDirectory interface {
	ListLinked(ctx context.Context, u *identity.User, role identity.Role) ([]*identity.User, error)
}

type Service struct {
	notifications NotificationRepository
	directory     CaregiverDirectory
	logger        zerolog.Logger
}

func NewService(notifications NotificationRepository, directory CaregiverDirectory, logger zerolog.Logger) *Service {
	return &Service{
		notifications: notifications,
		directory:     directory,
		logger:        logger.With().Str("component", "notification").Logger(),
	}
}

// NotifyMissedDose writes one notification per caregiver linked to the
// patient. Writes are sequential and not atomic: the first failure stops the
// loop and the notifications already written stay.
func (s *Service) NotifyMissedDose(ctx context.Context, dose MissedDose) ([]*Notification, error) {
	if dose.Patient == nil {
		return nil, fmt.Errorf("notify missed dose: nil patient")
	}
	caregivers, err := s.directory.ListLinked(ctx, dose.Patient, identity.RoleCaregiver)
	if err != nil {
		return nil, err
	}

	msg := dose.Message()
	created := make([]*Notification, 0, len(caregivers))
	for _, cg := range caregivers {
		n := &Notification{
			UserID:     cg.ID,
			MedicineID: dose.MedicineID,
			PatientID:  dose.Patient.ID,
			Message:    msg,
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			s.logger.Error().Err(err).
				Str("caregiver_id", cg.ID.String()).
				Int("written", len(created)).
				Msg("missed-dose fanout aborted")
			return created, fmt.Errorf("notify caregiver %s: %w", cg.ID, err)
		}
		created = append(created, n)
	}

	s.logger.Info().
		Str("patient_id", dose.Patient.ID.String()).
		Str("medicine_id", dose.MedicineID.String()).
		Int("notified", len(created)).
		Msg("missed-dose fanout")
	return created, nil
}

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	if userID == uuid.Nil {
		return nil, apperr.Validation("userId is required")
	}
	out, err := s.notifications.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if out == nil {
		out = []*Notification{}
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.notifications.MarkRead(ctx, id)
	if errors.Is(err, ErrNotificationNotFound) {
		return nil, apperr.NotFound("Notification not found")
	}
	return n, err
}
