package medicine

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type DoseStatus string

const (
	DosePending DoseStatus = "pending"
	DoseTaken   DoseStatus = "taken"
	DoseMissed  DoseStatus = "missed"
	DoseSnoozed DoseStatus = "snoozed"
)

// DoseEntry is one scheduled time of day for a medicine. Entries are embedded
// in the medicine and keyed by TimeUTC.
type DoseEntry struct {
	TimeUTC     string     `json:"timeUTC" bson:"timeUTC"`
	Status      DoseStatus `json:"status" bson:"status"`
	DismissedAt *time.Time `json:"dismissedAt,omitempty" bson:"dismissedAt,omitempty"`
	MissedAt    *time.Time `json:"missedAt,omitempty" bson:"missedAt,omitempty"`
	SnoozedAt   *time.Time `json:"snoozedAt,omitempty" bson:"snoozedAt,omitempty"`
}

type Medicine struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Times         []DoseEntry `json:"times"`
	PatientID     uuid.UUID   `json:"patientId"`
	CreatedBy     uuid.UUID   `json:"createdBy"`
	ScheduledDate string      `json:"scheduledDate"`
	TotalQuantity int         `json:"totalQuantity"`
	ImageURL      *string     `json:"imageUrl,omitempty"`
	StartDate     *time.Time  `json:"startDate,omitempty"`
	EndDate       *time.Time  `json:"endDate,omitempty"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Entry returns the dose entry scheduled at timeUTC, or nil.
func (m *Medicine) Entry(timeUTC string) *DoseEntry {
	for i := range m.Times {
		if m.Times[i].TimeUTC == timeUTC {
			return &m.Times[i]
		}
	}
	return nil
}

// Expired reports whether an active medicine's end date has passed.
func (m *Medicine) Expired(now time.Time) bool {
	return m.Status == StatusActive && m.EndDate != nil && m.EndDate.Before(now)
}
