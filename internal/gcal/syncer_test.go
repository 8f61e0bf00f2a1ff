package gcal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminarz/internal/events"
	"terminarz/internal/model"
)

type fakeCalendar struct {
	mu      sync.Mutex
	nextID  int
	created []string
	updated []string
	deleted []string
}

func (f *fakeCalendar) CreateEvent(_ context.Context, summary string, _, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "evt-" + summary
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID, _ string, _, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, eventID)
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeCalendar) ListEvents(context.Context, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}

type fakeSyncStore struct {
	mu          sync.Mutex
	reservation *model.Reservation
	client      *model.Client
	externalIDs map[int64]string
}

func (s *fakeSyncStore) GetReservation(_ context.Context, id int64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *s.reservation
	if ext, ok := s.externalIDs[id]; ok {
		r.ExternalEventID = ext
	}
	return &r, nil
}

func (s *fakeSyncStore) GetClient(context.Context, int64) (*model.Client, error) {
	return s.client, nil
}

func (s *fakeSyncStore) SetExternalEventID(_ context.Context, id int64, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalIDs[id] = externalID
	return nil
}

func newSyncFixture() (*fakeCalendar, *fakeSyncStore, *events.Bus) {
	cal := &fakeCalendar{}
	store := &fakeSyncStore{
		reservation: &model.Reservation{
			ID: 5, ClientID: 1,
			StartsAt:        time.Date(2026, time.September, 7, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 60,
			Status:          model.StatusConfirmed,
		},
		client:      &model.Client{ID: 1, FullName: "Ewa Zielińska"},
		externalIDs: make(map[int64]string),
	}
	bus := events.NewBus()
	NewSyncer(cal, store, nil).Subscribe(bus)
	return cal, store, bus
}

func TestCreatedEventMirrorsAndStoresID(t *testing.T) {
	cal, store, bus := newSyncFixture()

	bus.Publish(events.Event{Type: events.TypeReservationCreated, ReservationID: 5})

	require.Len(t, cal.created, 1)
	assert.Equal(t, "evt-Wizyta: Ewa Zielińska", store.externalIDs[5])
}

func TestChangedEventUpdatesExisting(t *testing.T) {
	cal, store, bus := newSyncFixture()
	store.externalIDs[5] = "evt-existing"

	bus.Publish(events.Event{Type: events.TypeReservationChanged, ReservationID: 5, StartChanged: true})

	assert.Empty(t, cal.created)
	assert.Equal(t, []string{"evt-existing"}, cal.updated)
}

func TestChangedEventWithoutStartMoveIsIgnored(t *testing.T) {
	cal, _, bus := newSyncFixture()

	bus.Publish(events.Event{Type: events.TypeReservationChanged, ReservationID: 5, StartChanged: false})

	assert.Empty(t, cal.created)
	assert.Empty(t, cal.updated)
}

func TestChangedEventFallsBackToCreate(t *testing.T) {
	cal, store, bus := newSyncFixture()

	bus.Publish(events.Event{Type: events.TypeReservationChanged, ReservationID: 5, StartChanged: true})

	require.Len(t, cal.created, 1, "an unmirrored reservation is created on change")
	assert.NotEmpty(t, store.externalIDs[5])
}

func TestCanceledEventDeletesMirroredEvent(t *testing.T) {
	cal, store, bus := newSyncFixture()
	store.externalIDs[5] = "evt-existing"

	bus.Publish(events.Event{Type: events.TypeReservationCanceled, ReservationID: 5})
	assert.Equal(t, []string{"evt-existing"}, cal.deleted)

	// Cancel of a never-mirrored reservation is a no-op.
	delete(store.externalIDs, 5)
	bus.Publish(events.Event{Type: events.TypeReservationCanceled, ReservationID: 5})
	assert.Len(t, cal.deleted, 1)
}
