package medicine

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/domain/identity"
	"github.com/medrem/medrem/internal/domain/notification"
	"github.com/medrem/medrem/internal/platform/apperr"
	"github.com/medrem/medrem/internal/platform/blobstore"
)

// -- Mock Medicine Repository --

type mockMedicineRepo struct {
	items   map[uuid.UUID]*Medicine
	seq     int
	updates int
}

func newMockMedicineRepo() *mockMedicineRepo {
	return &mockMedicineRepo{items: make(map[uuid.UUID]*Medicine)}
}

func clone(m *Medicine) *Medicine {
	cp := *m
	cp.Times = append([]DoseEntry{}, m.Times...)
	return &cp
}

func (r *mockMedicineRepo) Create(_ context.Context, m *Medicine) error {
	r.seq++
	m.ID = uuid.New()
	m.CreatedAt = time.Date(2026, 1, 1, 0, 0, r.seq, 0, time.UTC)
	m.UpdatedAt = m.CreatedAt
	r.items[m.ID] = clone(m)
	return nil
}

func (r *mockMedicineRepo) GetByID(_ context.Context, id uuid.UUID) (*Medicine, error) {
	m, ok := r.items[id]
	if !ok {
		return nil, ErrMedicineNotFound
	}
	return clone(m), nil
}

func (r *mockMedicineRepo) Update(_ context.Context, m *Medicine) error {
	if _, ok := r.items[m.ID]; !ok {
		return ErrMedicineNotFound
	}
	r.updates++
	r.items[m.ID] = clone(m)
	return nil
}

func (r *mockMedicineRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.items[id]; !ok {
		return ErrMedicineNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *mockMedicineRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Medicine, error) {
	var out []*Medicine
	for _, m := range r.items {
		if m.PatientID == patientID {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *mockMedicineRepo) CompleteExpired(_ context.Context, patientID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	for _, m := range r.items {
		if m.PatientID == patientID && m.Expired(now) {
			m.Status = StatusCompleted
			n++
		}
	}
	return n, nil
}

// -- Mock Directory --

type mockDirectory struct {
	users map[uuid.UUID]*identity.User
}

func (d *mockDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

func (d *mockDirectory) ListLinked(_ context.Context, u *identity.User, role identity.Role) ([]*identity.User, error) {
	var out []*identity.User
	for _, id := range u.LinkedUsers {
		if lu, ok := d.users[id]; ok && (role == "" || lu.Role == role) {
			out = append(out, lu)
		}
	}
	return out, nil
}

func (d *mockDirectory) add(name string, role identity.Role) *identity.User {
	u := &identity.User{ID: uuid.New(), Name: name, Role: role}
	d.users[u.ID] = u
	return u
}

func (d *mockDirectory) link(a, b *identity.User) {
	a.LinkedUsers = append(a.LinkedUsers, b.ID)
	b.LinkedUsers = append(b.LinkedUsers, a.ID)
}

// -- Mock Notification Repository --

type mockNotificationRepo struct {
	items []*notification.Notification
}

func (r *mockNotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	cp := *n
	r.items = append(r.items, &cp)
	return nil
}

func (r *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*notification.Notification, error) {
	for _, n := range r.items {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, notification.ErrNotificationNotFound
}

func (r *mockNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*notification.Notification, error) {
	var out []*notification.Notification
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].UserID == userID {
			out = append(out, r.items[i])
		}
	}
	return out, nil
}

func (r *mockNotificationRepo) MarkRead(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Read = true
	return n, nil
}

// -- Fixture --

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	repo      *mockMedicineRepo
	dir       *mockDirectory
	notes     *mockNotificationRepo
	patient   *identity.User
	caregiver *identity.User
}

func newFixture() *fixture {
	dir := &mockDirectory{users: make(map[uuid.UUID]*identity.User)}
	patient := dir.add("Asha", identity.RolePatient)
	caregiver := dir.add("Ravi", identity.RoleCaregiver)
	dir.link(patient, caregiver)

	repo := newMockMedicineRepo()
	notes := &mockNotificationRepo{}
	logger := zerolog.New(io.Discard)
	notifier := notification.NewService(notes, dir, logger)

	svc := NewService(repo, dir, notifier, logger)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, repo: repo, dir: dir, notes: notes, patient: patient, caregiver: caregiver}
}

func intPtr(n int) *int { return &n }

func (f *fixture) create(t *testing.T, times []string, qty int) *Medicine {
	t.Helper()
	m, err := f.svc.CreateMedicine(context.Background(), CreateMedicineInput{
		Name: "Metformin", Times: times, PatientID: f.patient.ID, CreatedBy: f.caregiver.ID,
		TotalQuantity: intPtr(qty),
	})
	if err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	return m
}

func statuses(m *Medicine) []DoseStatus {
	out := make([]DoseStatus, len(m.Times))
	for i, e := range m.Times {
		out[i] = e.Status
	}
	return out
}

// -- CreateMedicine --

func TestCreateMedicine_PendingEntries(t *testing.T) {
	f := newFixture()
	m := f.create(t, []string{"08:00", "20:00", "08:00"}, 10)

	want := []DoseEntry{{TimeUTC: "08:00", Status: DosePending}, {TimeUTC: "20:00", Status: DosePending}}
	if diff := cmp.Diff(want, m.Times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
	if m.Status != StatusActive {
		t.Errorf("expected active, got %s", m.Status)
	}
	if m.ScheduledDate != "2026-03-10" {
		t.Errorf("expected scheduledDate to default to today UTC, got %s", m.ScheduledDate)
	}
	if m.TotalQuantity != 10 {
		t.Errorf("expected quantity 10, got %d", m.TotalQuantity)
	}
}

func TestCreateMedicine_EndDateIsEndOfDay(t *testing.T) {
	f := newFixture()
	for _, in := range []string{
		"2026-04-01",
		"2026-04-01T06:15:00Z",
		"2026-04-01T23:00:00-05:00",
		"2026-04-01T01:30:00+05:30",
	} {
		m, err := f.svc.CreateMedicine(context.Background(), CreateMedicineInput{
			Name: "Metformin", Times: []string{"08:00"}, PatientID: f.patient.ID, CreatedBy: f.caregiver.ID,
			StartDate: "2026-03-10", EndDate: in,
		})
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		want := time.Date(2026, 4, 1, 23, 59, 59, 999_000_000, time.UTC)
		if m.EndDate == nil || !m.EndDate.Equal(want) {
			t.Errorf("%s: expected end date %s, got %v", in, want, m.EndDate)
		}
		if m.StartDate == nil || !m.StartDate.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected start date %v", m.StartDate)
		}
		if m.EndDate.Location() != time.UTC {
			t.Errorf("%s: expected end date stored in UTC, got %v", in, m.EndDate.Location())
		}
	}
}

func TestCreateMedicine_Validation(t *testing.T) {
	f := newFixture()
	other := f.dir.add("Kiran", identity.RoleCaregiver)
	base := func() CreateMedicineInput {
		return CreateMedicineInput{Name: "M", Times: []string{"08:00"}, PatientID: f.patient.ID, CreatedBy: f.caregiver.ID}
	}
	tests := []struct {
		name   string
		mutate func(in *CreateMedicineInput)
		want   error
	}{
		{"no name", func(in *CreateMedicineInput) { in.Name = " " }, apperr.ErrValidation},
		{"no times", func(in *CreateMedicineInput) { in.Times = nil }, apperr.ErrValidation},
		{"bad time", func(in *CreateMedicineInput) { in.Times = []string{"8am"} }, apperr.ErrValidation},
		{"hour out of range", func(in *CreateMedicineInput) { in.Times = []string{"24:00"} }, apperr.ErrValidation},
		{"no patient", func(in *CreateMedicineInput) { in.PatientID = uuid.Nil }, apperr.ErrValidation},
		{"no creator", func(in *CreateMedicineInput) { in.CreatedBy = uuid.Nil }, apperr.ErrValidation},
		{"negative quantity", func(in *CreateMedicineInput) { in.TotalQuantity = intPtr(-1) }, apperr.ErrValidation},
		{"bad end date", func(in *CreateMedicineInput) { in.EndDate = "next week" }, apperr.ErrValidation},
		{"bad scheduled date", func(in *CreateMedicineInput) { in.ScheduledDate = "10/03/2026" }, apperr.ErrValidation},
		{"patient is caregiver", func(in *CreateMedicineInput) { in.PatientID = other.ID }, apperr.ErrValidation},
		{"unknown patient", func(in *CreateMedicineInput) { in.PatientID = uuid.New() }, apperr.ErrNotFound},
		{"unknown creator", func(in *CreateMedicineInput) { in.CreatedBy = uuid.New() }, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			_, err := f.svc.CreateMedicine(context.Background(), in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(f.repo.items) != 0 {
		t.Errorf("expected nothing stored, got %d medicines", len(f.repo.items))
	}
}

// -- UpdateMedicine --

func TestUpdateMedicine_ReconcilesTimes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.create(t, []string{"08:00", "14:00"}, 5)
	if _, err := f.svc.MarkTaken(ctx, m.ID, "08:00"); err != nil {
		t.Fatal(err)
	}

	updated, err := f.svc.UpdateMedicine(ctx, m.ID, UpdateMedicineInput{Times: []string{"20:00", "08:00"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(updated.Times) != 2 {
		t.Fatalf("expected 2 entries, got %v", updated.Times)
	}
	if updated.Times[0].TimeUTC != "20:00" || updated.Times[0].Status != DosePending {
		t.Errorf("expected new pending 20:00, got %+v", updated.Times[0])
	}
	kept := updated.Times[1]
	if kept.TimeUTC != "08:00" || kept.Status != DoseTaken || kept.DismissedAt == nil {
		t.Errorf("expected taken 08:00 to be preserved, got %+v", kept)
	}
	if updated.Entry("14:00") != nil {
		t.Error("expected 14:00 to be dropped")
	}
}

func TestUpdateMedicine_Fields(t *testing.T) {
	f := newFixture()
	m := f.create(t, []string{"08:00"}, 5)
	name, url := "Metformin XR", "https://img.test/pill.png"

	updated, err := f.svc.UpdateMedicine(context.Background(), m.ID, UpdateMedicineInput{
		Name: &name, TotalQuantity: intPtr(30), ImageURL: &url,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != name || updated.TotalQuantity != 30 || updated.ImageURL == nil || *updated.ImageURL != url {
		t.Errorf("fields not applied: %+v", updated)
	}
	if diff := cmp.Diff(m.Times, updated.Times); diff != "" {
		t.Errorf("times should be untouched (-want +got):\n%s", diff)
	}
}

func TestUpdateMedicine_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.UpdateMedicine(context.Background(), uuid.New(), UpdateMedicineInput{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- DeleteMedicine --

func TestDeleteMedicine_KeepsNotifications(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.create(t, []string{"08:00"}, 5)
	if _, err := f.svc.MarkMissed(ctx, m.ID, "08:00", f.patient.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteMedicine(ctx, m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.notes.items) != 1 {
		t.Errorf("expected notification to survive delete, got %d", len(f.notes.items))
	}
	if err := f.svc.DeleteMedicine(ctx, m.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

// -- ListMedicines --

func TestListMedicines_ExpirySweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	mk := func(end string) *Medicine {
		m, err := f.svc.CreateMedicine(ctx, CreateMedicineInput{
			Name: "M", Times: []string{"08:00"}, PatientID: f.patient.ID, CreatedBy: f.caregiver.ID, EndDate: end,
		})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}
	yesterday := mk("2026-03-09")
	today := mk("2026-03-10")
	open := mk("")

	list, err := f.svc.ListMedicines(ctx, f.patient.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[uuid.UUID]Status{}
	var order []uuid.UUID
	for _, m := range list {
		got[m.ID] = m.Status
		order = append(order, m.ID)
	}
	if got[yesterday.ID] != StatusCompleted {
		t.Errorf("expected medicine ending yesterday to be completed")
	}
	if got[today.ID] != StatusActive || got[open.ID] != StatusActive {
		t.Errorf("expected medicines ending today or never to stay active: %v", got)
	}
	if diff := cmp.Diff([]uuid.UUID{yesterday.ID, today.ID, open.ID}, order); diff != "" {
		t.Errorf("expected createdAt order (-want +got):\n%s", diff)
	}
}

func TestListMedicines_CompletedNeverReverts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.create(t, []string{"08:00"}, 1)
	if _, err := f.svc.MarkCompleted(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	list, _ := f.svc.ListMedicines(ctx, f.patient.ID)
	if list[0].Status != StatusCompleted {
		t.Errorf("expected completed, got %s", list[0].Status)
	}
}

func TestListMedicines_RequiresPatient(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.ListMedicines(context.Background(), uuid.Nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListMedicines_EmptyIsNotNil(t *testing.T) {
	f := newFixture()
	list, err := f.svc.ListMedicines(context.Background(), uuid.New())
	if err != nil || list == nil {
		t.Errorf("expected empty slice, got %v, %v", list, err)
	}
}

// -- MarkCompleted --

func TestMarkCompleted_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.MarkCompleted(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- AttachImage --

type failingStore struct{}

func (failingStore) Upload(context.Context, blobstore.ImageMetadata, io.Reader) (*blobstore.StoredImage, error) {
	return nil, errors.New("provider returned 401")
}

func TestAttachImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	store := blobstore.NewInMemoryImageStore("http://localhost:5000")
	f.svc.SetImageStore(store)
	m := f.create(t, []string{"08:00"}, 1)

	updated, err := f.svc.AttachImage(ctx, m.ID, "pill.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ImageURL == nil || !strings.HasPrefix(*updated.ImageURL, "http://localhost:5000/uploads/") {
		t.Errorf("unexpected image URL %v", updated.ImageURL)
	}
	stored, _ := f.svc.GetMedicine(ctx, m.ID)
	if stored.ImageURL == nil || *stored.ImageURL != *updated.ImageURL {
		t.Error("expected image URL to be persisted")
	}
}

func TestAttachImage_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.SetImageStore(blobstore.NewInMemoryImageStore(""))
	m := f.create(t, []string{"08:00"}, 1)

	if _, err := f.svc.AttachImage(ctx, uuid.New(), "pill.png", strings.NewReader("x")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown medicine, got %v", err)
	}
	if _, err := f.svc.AttachImage(ctx, m.ID, "pill.gif", strings.NewReader("x")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for gif, got %v", err)
	}

	f.svc.SetImageStore(failingStore{})
	_, err := f.svc.AttachImage(ctx, m.ID, "pill.jpg", strings.NewReader("x"))
	if !errors.Is(err, apperr.ErrExternal) {
		t.Errorf("expected external error, got %v", err)
	}
	if apperr.Message(err) != "Failed to upload image" {
		t.Errorf("unexpected message %q", apperr.Message(err))
	}
}
