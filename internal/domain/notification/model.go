package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrem/medrem/internal/domain/identity"
)

// Notification is an in-app alert for a caregiver. Only Read changes after
// creation.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"userId"`
	MedicineID uuid.UUID `json:"medicineId"`
	PatientID  uuid.UUID `json:"patientId"`
	Message    string    `json:"message"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MissedDose describes a dose the patient did not take.
type MissedDose struct {
	Patient      *identity.User
	MedicineID   uuid.UUID
	MedicineName string
	TimeUTC      string
}

// Message renders the caregiver-facing text. An empty TimeUTC reads as
// "scheduled".
func (d MissedDose) Message() string {
	at := d.TimeUTC
	if at == "" {
		at = "scheduled"
	}
	return fmt.Sprintf("%s missed the %s dose of %s", d.Patient.Name, at, d.MedicineName)
}
