package notification

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/domain/identity"
	"github.com/medrem/medrem/internal/platform/apperr"
)

// -- Mock Notification Repository --

type mockNotificationRepo struct {
	items   map[uuid.UUID]*Notification
	order   []uuid.UUID
	failOn  int
	creates int
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{items: make(map[uuid.UUID]*Notification)}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *Notification) error {
	m.creates++
	if m.failOn > 0 && m.creates == m.failOn {
		return errors.New("write failed")
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now().Add(time.Duration(m.creates) * time.Millisecond)
	cp := *n
	m.items[n.ID] = &cp
	m.order = append(m.order, n.ID)
	return nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*Notification, error) {
	var out []*Notification
	for _, id := range m.order {
		if n := m.items[id]; n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	n.Read = true
	return m.GetByID(ctx, id)
}

// -- Mock Directory --

type mockDirectory struct {
	users map[uuid.UUID]*identity.User
	err   error
}

func (d *mockDirectory) ListLinked(_ context.Context, u *identity.User, role identity.Role) ([]*identity.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []*identity.User
	for _, id := range u.LinkedUsers {
		if lu, ok := d.users[id]; ok && (role == "" || lu.Role == role) {
			out = append(out, lu)
		}
	}
	return out, nil
}

type fixture struct {
	svc        *Service
	repo       *mockNotificationRepo
	patient    *identity.User
	caregivers []*identity.User
}

func newFixture(caregiverCount int) *fixture {
	dir := &mockDirectory{users: make(map[uuid.UUID]*identity.User)}
	patient := &identity.User{ID: uuid.New(), Name: "Asha", Role: identity.RolePatient}
	f := &fixture{repo: newMockNotificationRepo(), patient: patient}

	// A linked patient must never be notified.
	other := &identity.User{ID: uuid.New(), Name: "Meera", Role: identity.RolePatient}
	dir.users[other.ID] = other
	patient.LinkedUsers = append(patient.LinkedUsers, other.ID)

	for i := 0; i < caregiverCount; i++ {
		cg := &identity.User{ID: uuid.New(), Name: "Caregiver", Role: identity.RoleCaregiver}
		dir.users[cg.ID] = cg
		patient.LinkedUsers = append(patient.LinkedUsers, cg.ID)
		f.caregivers = append(f.caregivers, cg)
	}
	f.svc = NewService(f.repo, dir, zerolog.New(io.Discard))
	return f
}

func TestMissedDose_Message(t *testing.T) {
	p := &identity.User{Name: "Asha"}
	tests := []struct {
		timeUTC string
		want    string
	}{
		{"08:00", "Asha missed the 08:00 dose of Metformin"},
		{"", "Asha missed the scheduled dose of Metformin"},
	}
	for _, tt := range tests {
		got := MissedDose{Patient: p, MedicineName: "Metformin", TimeUTC: tt.timeUTC}.Message()
		if got != tt.want {
			t.Errorf("Message() = %q, want %q", got, tt.want)
		}
	}
}

func TestNotifyMissedDose_OnePerCaregiver(t *testing.T) {
	f := newFixture(2)
	medID := uuid.New()

	created, err := f.svc.NotifyMissedDose(context.Background(), MissedDose{
		Patient: f.patient, MedicineID: medID, MedicineName: "Metformin", TimeUTC: "08:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(created))
	}

	var got []uuid.UUID
	for _, n := range created {
		got = append(got, n.UserID)
		if n.MedicineID != medID || n.PatientID != f.patient.ID || n.Read {
			t.Errorf("unexpected notification %+v", n)
		}
		if n.Message != "Asha missed the 08:00 dose of Metformin" {
			t.Errorf("unexpected message %q", n.Message)
		}
	}
	want := []uuid.UUID{f.caregivers[0].ID, f.caregivers[1].ID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifyMissedDose_NotDeduplicated(t *testing.T) {
	f := newFixture(1)
	dose := MissedDose{Patient: f.patient, MedicineID: uuid.New(), MedicineName: "Metformin", TimeUTC: "08:00"}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.NotifyMissedDose(context.Background(), dose); err != nil {
			t.Fatalf("fanout %d: %v", i, err)
		}
	}
	list, _ := f.svc.ListNotifications(context.Background(), f.caregivers[0].ID)
	if len(list) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(list))
	}
}

func TestNotifyMissedDose_NoCaregivers(t *testing.T) {
	f := newFixture(0)
	created, err := f.svc.NotifyMissedDose(context.Background(), MissedDose{Patient: f.patient, MedicineName: "X"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no notifications, got %d", len(created))
	}
}

func TestNotifyMissedDose_AbortsOnFirstFailure(t *testing.T) {
	f := newFixture(3)
	f.repo.failOn = 2

	created, err := f.svc.NotifyMissedDose(context.Background(), MissedDose{
		Patient: f.patient, MedicineID: uuid.New(), MedicineName: "Metformin",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(created) != 1 {
		t.Errorf("expected the first write to survive, got %d", len(created))
	}
	if len(f.repo.items) != 1 {
		t.Errorf("expected 1 stored notification, got %d", len(f.repo.items))
	}
	if f.repo.creates != 2 {
		t.Errorf("expected fanout to stop after the failing write, got %d attempts", f.repo.creates)
	}
}

func TestListNotifications_NewestFirst(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	for _, at := range []string{"08:00", "12:00", "20:00"} {
		if _, err := f.svc.NotifyMissedDose(ctx, MissedDose{Patient: f.patient, MedicineName: "M", TimeUTC: at}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := f.svc.ListNotifications(ctx, f.caregivers[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var msgs []string
	for _, n := range list {
		msgs = append(msgs, n.Message)
	}
	want := []string{
		"Asha missed the 20:00 dose of M",
		"Asha missed the 12:00 dose of M",
		"Asha missed the 08:00 dose of M",
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestListNotifications_RequiresUser(t *testing.T) {
	f := newFixture(0)
	_, err := f.svc.ListNotifications(context.Background(), uuid.Nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListNotifications_EmptyIsNotNil(t *testing.T) {
	f := newFixture(0)
	list, err := f.svc.ListNotifications(context.Background(), uuid.New())
	if err != nil || list == nil {
		t.Errorf("expected empty list, got %v, %v", list, err)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	created, _ := f.svc.NotifyMissedDose(ctx, MissedDose{Patient: f.patient, MedicineName: "M"})

	n, err := f.svc.MarkRead(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Read {
		t.Error("expected notification to be read")
	}
	if n.Message != created[0].Message {
		t.Error("expected message to be unchanged")
	}

	_, err = f.svc.MarkRead(ctx, uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
