package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes the person taking medicine from the people watching
// over them.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleCaregiver
}

// Profile defaults applied when the caller leaves a field empty.
const (
	DefaultCountry  = "India"
	DefaultTimezone = "Asia/Kolkata"
	DefaultLanguage = "en"
)

// User is a patient or caregiver account. LinkedUsers is symmetric: if B is
// in A's list then A is in B's.
type User struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Role        Role        `json:"role"`
	LinkCode    string      `json:"linkCode"`
	LinkedUsers []uuid.UUID `json:"linkedUsers"`
	Country     string      `json:"country"`
	Timezone    string      `json:"timezone"`
	Language    string      `json:"language"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// IsLinkedTo reports whether id is among the user's linked users.
func (u *User) IsLinkedTo(id uuid.UUID) bool {
	for _, l := range u.LinkedUsers {
		if l == id {
			return true
		}
	}
	return false
}

// LinkedUserSummary is the populated form of a linked user.
type LinkedUserSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role Role      `json:"role"`
}

func (u *User) Summary() LinkedUserSummary {
	return LinkedUserSummary{ID: u.ID, Name: u.Name, Role: u.Role}
}

// linkCodeBytes yields a 6-character hex code, about 16.7M values.
const linkCodeBytes = 3

// NewLinkCode returns a random upper-case hex link code.
func NewLinkCode() (string, error) {
	b := make([]byte, linkCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate link code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeLinkCode trims and upper-cases a code typed by a user.
func NormalizeLinkCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
