package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healtrack/healtrack/internal/domain/identity"
	"github.com/healtrack/healtrack/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*Notification
	patients []PanicCount
	clock    time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Notification), clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockRepo) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = m.now()
	cp := *n
	m.store[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[id]
	if !ok || n.DeletedAt != nil {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[n.ID]
	if !ok || cur.DeletedAt != nil {
		return ErrNotificationNotFound
	}
	cur.Title, cur.Message = n.Title, n.Message
	return nil
}

func (m *mockRepo) filter(keep func(*Notification) bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Notification
	for _, n := range m.store {
		if keep(n) {
			cp := *n
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ListActive(_ context.Context, limit, offset int) ([]*Notification, int, error) {
	return m.filter(func(n *Notification) bool { return n.DeletedAt == nil }, limit, offset)
}

func (m *mockRepo) ListAll(_ context.Context, limit, offset int) ([]*Notification, int, error) {
	return m.filter(func(*Notification) bool { return true }, limit, offset)
}

func (m *mockRepo) ListForRecipient(_ context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return m.filter(func(n *Notification) bool { return n.RecipientID == recipientID && n.DeletedAt == nil }, limit, offset)
}

func (m *mockRepo) CountUnread(_ context.Context, recipientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.store {
		if n.RecipientID == recipientID && !n.IsRead && n.DeletedAt == nil {
			c++
		}
	}
	return c, nil
}

func (m *mockRepo) CountUnreadFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		out[id], _ = m.CountUnread(ctx, id)
	}
	return out, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (m *mockRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	if n.DeletedAt == nil {
		t := m.now()
		n.DeletedAt = &t
	}
	return nil
}

func (m *mockRepo) SoftDeleteAllForRecipient(_ context.Context, recipientID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.store {
		if n.RecipientID == recipientID && n.DeletedAt == nil {
			t := m.now()
			n.IsRead = true
			n.DeletedAt = &t
			c++
		}
	}
	return c, nil
}

func (m *mockRepo) PurgeSoftDeleted(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for id, n := range m.store {
		if n.DeletedAt != nil {
			delete(m.store, id)
			c++
		}
	}
	return c, nil
}

func (m *mockRepo) PanicCounts(_ context.Context) ([]PanicCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make(map[uuid.UUID]map[uuid.UUID]struct{})
	for _, n := range m.store {
		if n.PatientID == nil || n.AlertID == nil || n.DeletedAt != nil {
			continue
		}
		if alerts[*n.PatientID] == nil {
			alerts[*n.PatientID] = make(map[uuid.UUID]struct{})
		}
		alerts[*n.PatientID][*n.AlertID] = struct{}{}
	}
	var out []PanicCount
	for _, p := range m.patients {
		p.Count = len(alerts[p.PatientID])
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// snapshot returns a stored row regardless of soft-delete state.
func (m *mockRepo) snapshot(id uuid.UUID) Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.store[id]
}

// -- Mock Directory --

type mockDirectory struct {
	users map[uuid.UUID]*identity.User
}

func newMockDirectory(users ...*identity.User) *mockDirectory {
	d := &mockDirectory{users: make(map[uuid.UUID]*identity.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *mockDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (d *mockDirectory) ListUsersByIDs(_ context.Context, ids []uuid.UUID) ([]*identity.User, error) {
	var out []*identity.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *mockDirectory) GetEmployee(context.Context, uuid.UUID) (*identity.Employee, error) {
	return nil, identity.ErrEmployeeNotFound
}

func (d *mockDirectory) GetEmployeeByUserID(context.Context, uuid.UUID) (*identity.Employee, error) {
	return nil, identity.ErrEmployeeNotFound
}

func (d *mockDirectory) GetPatientByUserID(context.Context, uuid.UUID) (*identity.Patient, error) {
	return nil, identity.ErrPatientNotFound
}

// -- Recording Broadcaster --

type emitted struct {
	Audience websocket.Audience
	Event    string
	Payload  any
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	emits     []emitted
	connected []uuid.UUID
}

func (b *recordingBroadcaster) Emit(event string, payload any) {
	b.EmitTo(websocket.Audience{All: true}, event, payload)
}

func (b *recordingBroadcaster) EmitToUser(userID uuid.UUID, event string, payload any) {
	b.EmitTo(websocket.Audience{Users: []uuid.UUID{userID}}, event, payload)
}

func (b *recordingBroadcaster) EmitToRoom(room string, event string, payload any) {
	b.EmitTo(websocket.Audience{Rooms: []string{room}}, event, payload)
}

func (b *recordingBroadcaster) EmitTo(aud websocket.Audience, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emits = append(b.emits, emitted{Audience: aud, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) ConnectedUsers() []uuid.UUID {
	return b.connected
}

func (b *recordingBroadcaster) last(t *testing.T) emitted {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.emits) == 0 {
		t.Fatal("expected an emit, got none")
	}
	return b.emits[len(b.emits)-1]
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.emits)
}

// -- Helpers --

type fixture struct {
	svc     *Service
	repo    *mockRepo
	events  *recordingBroadcaster
	patient *identity.User
	medic   *identity.User
}

func newFixture(scoped bool) *fixture {
	patient := &identity.User{ID: uuid.New(), Name: "Pedro", Role: identity.RolePatient}
	medic := &identity.User{ID: uuid.New(), Name: "Marta", Role: identity.RoleMedic}
	repo := newMockRepo()
	events := &recordingBroadcaster{}
	svc := NewService(repo, newMockDirectory(patient, medic), events, scoped, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, events: events, patient: patient, medic: medic}
}

func (f *fixture) create(t *testing.T, recipient uuid.UUID) *Notification {
	t.Helper()
	n := &Notification{Title: "Nuevo mensaje de Marta", Message: "Hola", RecipientID: recipient}
	if err := f.svc.Create(context.Background(), n); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return n
}

func (f *fixture) unread(t *testing.T, id uuid.UUID) int {
	t.Helper()
	n, err := f.svc.CountUnread(context.Background(), id)
	if err != nil {
		t.Fatalf("CountUnread() error: %v", err)
	}
	return n
}

// -- Tests --

func TestService_CreateValidation(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	tests := []struct {
		name string
		n    Notification
		want error
	}{
		{"missing recipient", Notification{Title: "t", Message: "m"}, ErrRecipientRequired},
		{"unknown recipient", Notification{Title: "t", Message: "m", RecipientID: uuid.New()}, ErrRecipientNotFound},
		{"missing title", Notification{Title: "  ", Message: "m", RecipientID: f.patient.ID}, ErrTitleRequired},
		{"missing message", Notification{Title: "t", RecipientID: f.patient.ID}, ErrMessageRequired},
		{"bad kind", Notification{Kind: "sms", Title: "t", Message: "m", RecipientID: f.patient.ID}, ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.n
			if err := f.svc.Create(ctx, &n); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if f.events.count() != 0 {
		t.Errorf("expected no emits for rejected notifications, got %d", f.events.count())
	}
}

func TestService_CreateDefaultsAndPublishes(t *testing.T) {
	f := newFixture(true)
	n := f.create(t, f.patient.ID)

	if n.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if n.Kind != KindMessage {
		t.Errorf("expected default kind message, got %s", n.Kind)
	}
	if n.IsRead {
		t.Error("expected new notification to be unread")
	}

	e := f.events.last(t)
	if e.Event != EventUnreadCount {
		t.Fatalf("expected %s, got %s", EventUnreadCount, e.Event)
	}
	if len(e.Audience.Users) != 1 || e.Audience.Users[0] != f.patient.ID {
		t.Fatalf("expected emit to the recipient only, got %+v", e.Audience)
	}
	counts := e.Payload.(map[string]int)
	if counts[f.patient.ID.String()] != 1 {
		t.Errorf("expected count 1, got %v", counts)
	}
}

func TestService_UnscopedPublishIncludesConnectedUsers(t *testing.T) {
	f := newFixture(false)
	f.events.connected = []uuid.UUID{f.medic.ID}
	f.create(t, f.patient.ID)

	e := f.events.last(t)
	if !e.Audience.All {
		t.Fatalf("expected broadcast to all sockets, got %+v", e.Audience)
	}
	counts := e.Payload.(map[string]int)
	if len(counts) != 2 {
		t.Fatalf("expected counts for connected user and recipient, got %v", counts)
	}
	if counts[f.patient.ID.String()] != 1 || counts[f.medic.ID.String()] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestService_RecordDoesNotPublish(t *testing.T) {
	f := newFixture(true)
	n := &Notification{Title: "t", Message: "m", RecipientID: f.patient.ID}
	if err := f.svc.Record(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if f.events.count() != 0 {
		t.Fatalf("expected no emit from Record, got %d", f.events.count())
	}
	f.svc.PublishUnread(context.Background(), f.patient.ID, f.patient.ID)
	if f.events.count() != 1 {
		t.Fatalf("expected one emit per distinct user, got %d", f.events.count())
	}
}

func TestService_MarkReadDecrementsOnce(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	n := f.create(t, f.patient.ID)
	f.create(t, f.patient.ID)

	before := f.unread(t, f.patient.ID)
	if _, err := f.svc.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	if got := f.unread(t, f.patient.ID); got != before-1 {
		t.Fatalf("expected unread %d, got %d", before-1, got)
	}

	emits := f.events.count()
	if _, err := f.svc.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("second MarkRead() error: %v", err)
	}
	if got := f.unread(t, f.patient.ID); got != before-1 {
		t.Fatalf("expected unread unchanged at %d, got %d", before-1, got)
	}
	if f.events.count() != emits {
		t.Error("expected no emit for an already-read notification")
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	f := newFixture(true)
	if _, err := f.svc.MarkRead(context.Background(), uuid.New()); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_SoftDeleteForcesRead(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	n := f.create(t, f.patient.ID)

	if err := f.svc.Remove(ctx, n.ID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	got := f.repo.snapshot(n.ID)
	if got.DeletedAt == nil {
		t.Fatal("expected deleted_at to be set")
	}
	if !got.IsRead {
		t.Error("expected soft-deleted notification to be read")
	}
	if f.unread(t, f.patient.ID) != 0 {
		t.Error("expected deleted notification to leave the unread count")
	}
}

func TestService_SoftDeleteIdempotent(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	n := f.create(t, f.patient.ID)

	if err := f.repo.SoftDelete(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	first := f.repo.snapshot(n.ID)

	if err := f.repo.SoftDelete(ctx, n.ID); err != nil {
		t.Fatalf("expected repeated soft delete to succeed, got %v", err)
	}
	second := f.repo.snapshot(n.ID)
	if !second.DeletedAt.Equal(*first.DeletedAt) || second.IsRead != first.IsRead {
		t.Errorf("expected identical state, got %+v then %+v", first, second)
	}

	// Single-item remove re-fetches the active row, so a second call is NotFound.
	if err := f.svc.Remove(ctx, n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("expected not found on remove of deleted row, got %v", err)
	}
}

func TestService_RemoveAllForRecipient(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	f.create(t, f.patient.ID)
	f.create(t, f.patient.ID)
	other := f.create(t, f.medic.ID)

	n, err := f.svc.RemoveAllForRecipient(ctx, f.patient.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if again, _ := f.svc.RemoveAllForRecipient(ctx, f.patient.ID); again != 0 {
		t.Errorf("expected second bulk delete to touch nothing, got %d", again)
	}
	if _, err := f.svc.Get(ctx, other.ID); err != nil {
		t.Errorf("expected other recipient's notification to survive, got %v", err)
	}

	items, total, _ := f.svc.ListAll(ctx, 10, 0)
	if total != 3 || len(items) != 3 {
		t.Errorf("expected soft-deleted rows in complete listing, got %d", total)
	}
	_, active, _ := f.svc.ListActive(ctx, 10, 0)
	if active != 1 {
		t.Errorf("expected 1 active, got %d", active)
	}
}

func TestService_PurgeDeleted(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	n := f.create(t, f.patient.ID)
	f.create(t, f.patient.ID)
	f.svc.Remove(ctx, n.ID)

	purged, err := f.svc.PurgeDeleted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	_, total, _ := f.svc.ListAll(ctx, 10, 0)
	if total != 1 {
		t.Errorf("expected 1 remaining, got %d", total)
	}
}

func TestService_Update(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	n := f.create(t, f.patient.ID)

	got, err := f.svc.Update(ctx, n.ID, "Recordatorio", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Recordatorio" || got.Message != "Hola" {
		t.Errorf("expected title replaced and message kept, got %+v", got)
	}
	if _, err := f.svc.Update(ctx, uuid.New(), "x", "y"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_PanicCounts(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	alerted := PanicCount{PatientID: uuid.New(), UserID: f.patient.ID, Name: "Pedro", Identification: "1711111111"}
	quiet := PanicCount{PatientID: uuid.New(), UserID: uuid.New(), Name: "Rosa"}
	f.repo.patients = []PanicCount{quiet, alerted}
	alert1, alert2 := uuid.New(), uuid.New()

	for _, alert := range []uuid.UUID{alert1, alert1, alert2} {
		a := alert
		n := &Notification{Kind: KindEmployee, Title: "Alerta de pánico", Message: "m",
			RecipientID: f.medic.ID, PatientID: &alerted.PatientID, AlertID: &a}
		if err := f.svc.Create(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := f.svc.PanicCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected every patient listed, got %+v", counts)
	}
	if counts[0].PatientID != alerted.PatientID || counts[0].Count != 2 || counts[0].Name != "Pedro" {
		t.Errorf("expected 2 distinct alerts for Pedro first, got %+v", counts[0])
	}
	if counts[1].PatientID != quiet.PatientID || counts[1].Count != 0 {
		t.Errorf("expected a zero count for the patient without alerts, got %+v", counts[1])
	}
}

func TestMergeIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := mergeIDs([]uuid.UUID{a, uuid.Nil}, []uuid.UUID{b, a})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("unexpected merge result %v", got)
	}
}
