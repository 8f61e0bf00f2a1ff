package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminarz/internal/db"
	"terminarz/internal/model"
)

// mockReservationStore mirrors the sqlite layer's conditional update: the
// write only lands when the stored status still matches the expected one.
type mockReservationStore struct {
	mu     sync.Mutex
	rows   map[int64]*model.Reservation
	nextID int64
}

func newMockReservationStore() *mockReservationStore {
	return &mockReservationStore{rows: make(map[int64]*model.Reservation), nextID: 1}
}

func (m *mockReservationStore) GetReservation(_ context.Context, id int64) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, &db.NotFoundError{Kind: "reservation", ID: id}
	}
	out := *r
	return &out, nil
}

func (m *mockReservationStore) CreateReservation(_ context.Context, r *model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID
	m.nextID++
	stored := *r
	m.rows[r.ID] = &stored
	return nil
}

func (m *mockReservationStore) UpdateReservationIfStatus(_ context.Context, r *model.Reservation, expectedStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[r.ID]
	if !ok || stored.Status != expectedStatus {
		return db.ErrStaleState
	}
	updated := *r
	m.rows[r.ID] = &updated
	return nil
}

// force mutates the stored row behind the workflow's back.
func (m *mockReservationStore) force(id int64, mutate func(*model.Reservation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(m.rows[id])
}

type allowAllChecker struct{ available bool }

func (c allowAllChecker) IsSlotAvailable(context.Context, time.Time, int, int64) (bool, error) {
	return c.available, nil
}

func newTestWorkflow(store *mockReservationStore) *Workflow {
	return New(store, allowAllChecker{available: true}, nil, nil, nil)
}

func mustBook(t *testing.T, wf *Workflow, direct bool) *model.Reservation {
	t.Helper()
	start := time.Date(2026, time.September, 10, 10, 0, 0, 0, time.UTC)
	r, err := wf.Book(context.Background(), 1, start, 60, direct)
	require.NoError(t, err)
	return r
}

func TestBookDirectIsConfirmed(t *testing.T) {
	wf := newTestWorkflow(newMockReservationStore())
	r := mustBook(t, wf, true)

	assert.Equal(t, model.StatusConfirmed, r.Status)
	assert.True(t, r.SendReminder, "reminders default on")
	assert.Nil(t, r.ReminderSentAt)
	assert.Zero(t, r.RescheduledCount)
}

func TestBookRequestAwaitsApproval(t *testing.T) {
	wf := newTestWorkflow(newMockReservationStore())
	r := mustBook(t, wf, false)

	assert.Equal(t, model.StatusPendingApproval, r.Status)
	assert.Equal(t, "no_proposal", r.SubState())
}

func TestBookRejectsOccupiedSlot(t *testing.T) {
	store := newMockReservationStore()
	wf := New(store, allowAllChecker{available: false}, nil, nil, nil)

	_, err := wf.Book(context.Background(), 1, time.Now().Add(48*time.Hour), 60, true)
	assert.Error(t, err)
	assert.Empty(t, store.rows, "nothing persisted on an unavailable slot")
}

func TestRequestThenApproveRoundTrip(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)
	original := r.StartsAt

	newStart := original.AddDate(0, 0, 2)
	r, err := wf.RequestReschedule(context.Background(), r.ID, newStart)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, r.Status)
	assert.Equal(t, "client_requested", r.SubState())
	assert.Equal(t, original, r.StartsAt, "the request alone does not move the interval")

	r, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, r.Status)
	assert.Equal(t, newStart, r.StartsAt)
	assert.Nil(t, r.RequestedStartsAt)

	assert.Equal(t, 1, r.RescheduledCount)
	require.NotNil(t, r.FirstRescheduledAt)
	require.NotNil(t, r.LastRescheduledAt)
	assert.Equal(t, *r.FirstRescheduledAt, *r.LastRescheduledAt)
	assert.Nil(t, r.ReminderSentAt, "moving the start revokes any pending reminder")
}

func TestSecondRescheduleKeepsFirstStamp(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)

	first := r.StartsAt.AddDate(0, 0, 1)
	_, err := wf.RequestReschedule(context.Background(), r.ID, first)
	require.NoError(t, err)
	r, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.NoError(t, err)
	firstStamp := *r.FirstRescheduledAt

	second := first.AddDate(0, 0, 1)
	_, err = wf.RequestReschedule(context.Background(), r.ID, second)
	require.NoError(t, err)
	r, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, r.RescheduledCount)
	assert.Equal(t, firstStamp, *r.FirstRescheduledAt, "first stamp is written once")
	assert.True(t, r.LastRescheduledAt.After(firstStamp) || r.LastRescheduledAt.Equal(firstStamp))
}

func TestApproveFreshBookingWithin24hSuppressesReminder(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)

	soon := time.Now().Add(3 * time.Hour)
	r, err := wf.Book(context.Background(), 1, soon, 60, false)
	require.NoError(t, err)

	r, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, r.Status)
	assert.NotNil(t, r.ReminderSentAt, "the confirmation message stands in for the reminder")
}

func TestApproveFreshBookingBeyond24hLeavesReminderPending(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)

	later := time.Now().Add(72 * time.Hour)
	r, err := wf.Book(context.Background(), 1, later, 60, false)
	require.NoError(t, err)

	r, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Nil(t, r.ReminderSentAt)
}

func TestApproveConfirmedWithoutRequestConflicts(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)

	_, err := wf.ApproveRequestedChange(context.Background(), r.ID)
	assert.True(t, IsConflictingState(err))
}

func TestSuggestionRoundTrip(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)
	original := r.StartsAt

	_, err := wf.RequestReschedule(context.Background(), r.ID, original.AddDate(0, 0, 1))
	require.NoError(t, err)

	suggested := original.AddDate(0, 0, 3)
	newDuration := 90
	r, err = wf.RejectWithSuggestion(context.Background(), r.ID, suggested, &newDuration, "dłuższa wizyta")
	require.NoError(t, err)
	assert.Equal(t, "operator_suggested", r.SubState())
	assert.Nil(t, r.RequestedStartsAt, "the counter-suggestion supersedes the request")
	assert.Equal(t, original, r.StartsAt)

	r, err = wf.ClientAcceptSuggestion(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, r.Status)
	assert.Equal(t, suggested, r.StartsAt)
	assert.Equal(t, 90, r.DurationMinutes, "suggested duration is adopted on acceptance")
	assert.Nil(t, r.SuggestedStartsAt)
	assert.Equal(t, 1, r.RescheduledCount)
}

func TestClientRejectSuggestionStaysPending(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, false)

	suggested := r.StartsAt.AddDate(0, 0, 3)
	_, err := wf.RejectWithSuggestion(context.Background(), r.ID, suggested, nil, "")
	require.NoError(t, err)

	r, err = wf.ClientRejectSuggestion(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, r.Status)
	assert.Equal(t, "no_proposal", r.SubState(), "a fresh request can follow")
}

func TestAcceptWithoutSuggestionFails(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, false)

	_, err := wf.ClientAcceptSuggestion(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrNoSuggestion)
}

func TestRejectWithSuggestionTwiceConflicts(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, false)

	suggested := r.StartsAt.AddDate(0, 0, 3)
	_, err := wf.RejectWithSuggestion(context.Background(), r.ID, suggested, nil, "")
	require.NoError(t, err)

	_, err = wf.RejectWithSuggestion(context.Background(), r.ID, suggested.Add(time.Hour), nil, "")
	assert.True(t, IsConflictingState(err))
}

func TestCancelClearsNegotiationAndReminder(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)

	_, err := wf.RequestReschedule(context.Background(), r.ID, r.StartsAt.AddDate(0, 0, 1))
	require.NoError(t, err)

	r, err = wf.Cancel(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, r.Status)
	assert.Nil(t, r.RequestedStartsAt)
	assert.Nil(t, r.SuggestedStartsAt)
	assert.Nil(t, r.ReminderSentAt)
	assert.False(t, r.Occupies(), "a canceled reservation frees its interval")

	_, err = wf.Cancel(context.Background(), r.ID)
	assert.True(t, IsConflictingState(err), "cancel is terminal")
}

func TestStaleStatusSurfacesAsConflict(t *testing.T) {
	store := newMockReservationStore()
	wf := newTestWorkflow(store)
	r := mustBook(t, wf, true)

	_, err := wf.RequestReschedule(context.Background(), r.ID, r.StartsAt.AddDate(0, 0, 1))
	require.NoError(t, err)

	// Another actor cancels between the approve's read and its write.
	store.force(r.ID, func(stored *model.Reservation) {
		stored.Status = model.StatusCanceled
	})

	_, err = wf.ApproveRequestedChange(context.Background(), r.ID)
	require.Error(t, err)
	var conflict *ConflictingStateError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.StatusCanceled, conflict.Actual)
	assert.Equal(t, "approveRequestedChange", conflict.Operation)
}
