package medicine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrem/medrem/internal/domain/notification"
	"github.com/medrem/medrem/internal/platform/apperr"
)

// doseTransitions lists the statuses each dose status may move to. Re-marking
// a missed entry refreshes missedAt; re-marking a taken entry is a no-op so
// quantity is decremented once.
var doseTransitions = map[DoseStatus][]DoseStatus{
	DosePending: {DoseTaken, DoseMissed, DoseSnoozed},
	DoseSnoozed: {DoseTaken, DoseMissed, DoseSnoozed},
	DoseMissed:  {DoseTaken, DoseMissed},
}

// checkTransition reports whether moving from -> to changes the entry.
func checkTransition(from, to DoseStatus) (bool, error) {
	if from == DoseTaken && to == DoseTaken {
		return false, nil
	}
	for _, next := range doseTransitions[from] {
		if next == to {
			return true, nil
		}
	}
	return false, apperr.Conflict(fmt.Sprintf("invalid dose transition from %s to %s", from, to))
}

func applyTransition(e *DoseEntry, to DoseStatus, now time.Time) {
	e.Status = to
	switch to {
	case DoseTaken:
		e.DismissedAt = &now
	case DoseMissed:
		e.MissedAt = &now
	case DoseSnoozed:
		e.SnoozedAt = &now
	}
}

// DoseResult reports what a dose mark did. Matched is false when the
// medicine has no entry at the requested time; Changed is false when the
// entry already had the requested status.
type DoseResult struct {
	Matched  bool
	Changed  bool
	Medicine *Medicine
}

// MissedResult is a DoseResult plus the caregiver notifications written.
type MissedResult struct {
	DoseResult
	Notifications []*notification.Notification
}

// MarkTaken marks the dose at timeUTC taken and decrements the medicine's
// quantity, never below zero.
func (s *Service) MarkTaken(ctx context.Context, id uuid.UUID, timeUTC string) (*DoseResult, error) {
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.markDose(ctx, m, timeUTC, DoseTaken)
}

func (s *Service) MarkSnoozed(ctx context.Context, id uuid.UUID, timeUTC string) (*DoseResult, error) {
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.markDose(ctx, m, timeUTC, DoseSnoozed)
}

// MarkMissed marks the dose at timeUTC missed and notifies the patient's
// caregivers. The patient is resolved before anything is written. Fanout runs
// whether or not an entry matched and is not deduplicated.
func (s *Service) MarkMissed(ctx context.Context, id uuid.UUID, timeUTC string, patientID uuid.UUID) (*MissedResult, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patientId is required")
	}
	m, err := s.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	res, err := s.markDose(ctx, m, timeUTC, DoseMissed)
	if err != nil {
		return nil, err
	}

	sent, err := s.notifier.NotifyMissedDose(ctx, notification.MissedDose{
		Patient:      patient,
		MedicineID:   m.ID,
		MedicineName: m.Name,
		TimeUTC:      timeUTC,
	})
	if err != nil {
		return nil, fmt.Errorf("missed-dose fanout: %w", err)
	}
	return &MissedResult{DoseResult: *res, Notifications: sent}, nil
}

func (s *Service) markDose(ctx context.Context, m *Medicine, timeUTC string, to DoseStatus) (*DoseResult, error) {
	res := &DoseResult{Medicine: m}
	entry := m.Entry(timeUTC)
	if entry == nil {
		if s.strictMatch {
			return nil, apperr.NotFound(fmt.Sprintf("No dose scheduled at %q", timeUTC))
		}
		s.logger.Debug().
			Str("medicine_id", m.ID.String()).
			Str("time_utc", timeUTC).
			Msg("no dose entry at time, nothing marked")
		return res, nil
	}
	res.Matched = true

	changed, err := checkTransition(entry.Status, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return res, nil
	}

	applyTransition(entry, to, s.now().UTC())
	if to == DoseTaken && m.TotalQuantity > 0 {
		m.TotalQuantity--
	}
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	res.Changed = true

	s.logger.Info().
		Str("medicine_id", m.ID.String()).
		Str("time_utc", timeUTC).
		Str("status", string(to)).
		Int("total_quantity", m.TotalQuantity).
		Msg("dose marked")
	return res, nil
}
