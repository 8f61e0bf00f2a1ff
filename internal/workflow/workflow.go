// Package workflow owns the appointment lifecycle: booking, the negotiated
// reschedule protocol between operator and client, and cancellation.
//
// Every transition is a whole-record conditional update guarded by the status
// the record was fetched with; a lost race surfaces as ConflictingStateError
// rather than a partial write. The availability check preceding a confirming
// write is re-run just before that write, which narrows but does not close
// the read/write race; with human-paced bookings this is an accepted
// limitation.
package workflow

import (
	"context"
	"errors"
	"time"

	"terminarz/internal/availability"
	"terminarz/internal/db"
	"terminarz/internal/events"
	"terminarz/internal/model"

	"github.com/rs/zerolog"
)

// Store is the reservation persistence the workflow mutates.
type Store interface {
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservationIfStatus(ctx context.Context, r *model.Reservation, expectedStatus string) error
}

// AvailabilityChecker validates candidate times before a confirming write.
type AvailabilityChecker interface {
	IsSlotAvailable(ctx context.Context, start time.Time, durationMinutes int, excludeID int64) (bool, error)
}

// Notifier delivers the messages tied to negotiation outcomes. Delivery
// failures are logged, never allowed to roll back a committed transition.
type Notifier interface {
	SendApproval(ctx context.Context, r *model.Reservation) error
	SendSuggestion(ctx context.Context, r *model.Reservation) error
}

// Workflow mediates all reservation mutations.
type Workflow struct {
	store    Store
	checker  AvailabilityChecker
	notifier Notifier
	bus      *events.Bus
	logger   *zerolog.Logger
}

// New creates a workflow. bus and notifier may be nil in tests.
func New(store Store, checker AvailabilityChecker, notifier Notifier, bus *events.Bus, logger *zerolog.Logger) *Workflow {
	return &Workflow{store: store, checker: checker, notifier: notifier, bus: bus, logger: logger}
}

// Get returns the reservation as stored.
func (w *Workflow) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	return w.store.GetReservation(ctx, id)
}

// Book creates a reservation. Direct bookings start life confirmed; booking
// requests await operator confirmation in pending_approval.
func (w *Workflow) Book(ctx context.Context, clientID int64, startsAt time.Time, durationMinutes int, direct bool) (*model.Reservation, error) {
	if err := w.ensureAvailable(ctx, startsAt, durationMinutes, 0); err != nil {
		return nil, err
	}

	status := model.StatusPendingApproval
	if direct {
		status = model.StatusConfirmed
	}
	r := &model.Reservation{
		ClientID:        clientID,
		StartsAt:        startsAt,
		DurationMinutes: durationMinutes,
		Status:          status,
		SendReminder:    true,
	}
	if err := w.store.CreateReservation(ctx, r); err != nil {
		return nil, err
	}

	w.publish(events.TypeReservationCreated, r.ID, false)
	w.log(r.ID).Str("status", status).Time("starts_at", startsAt).Msg("reservation booked")
	return r, nil
}

// RequestReschedule records a client's proposal of a new start time. The
// caller is expected to have validated newStart against availability; the
// proposal itself does not move the occupied interval.
func (w *Workflow) RequestReschedule(ctx context.Context, id int64, newStart time.Time) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == model.StatusCanceled {
		return nil, w.conflict(r, "requestReschedule", "not canceled")
	}

	expected := r.Status
	now := time.Now()
	r.Status = model.StatusPendingApproval
	r.RequestedStartsAt = &newStart
	r.RequestedAt = &now
	clearSuggestion(r)

	if err := w.write(ctx, r, expected, "requestReschedule"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationChanged, r.ID, false)
	w.log(r.ID).Time("requested_starts_at", newStart).Msg("reschedule requested")
	return r, nil
}

// ApproveRequestedChange adopts the client's requested time, or confirms a
// fresh booking request when no proposal is pending. Confirming a booking
// that starts within 24 hours marks the reminder as already sent: the
// confirmation message itself serves as the reminder.
func (w *Workflow) ApproveRequestedChange(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := r.Status
	now := time.Now()

	switch {
	case r.HasClientRequest():
		newStart := *r.RequestedStartsAt
		if err := w.ensureAvailable(ctx, newStart, r.DurationMinutes, r.ID); err != nil {
			return nil, err
		}
		applyStartChange(r, newStart, now)
		r.Status = model.StatusConfirmed
		r.RequestedStartsAt = nil
		r.RequestedAt = nil

	case r.Status == model.StatusPendingApproval:
		// Fresh booking awaiting confirmation; the time stands.
		r.Status = model.StatusConfirmed
		if r.StartsAt.Before(now.Add(24 * time.Hour)) {
			r.ReminderSentAt = &now
		}

	default:
		return nil, w.conflict(r, "approveRequestedChange", "pending_approval or client request")
	}

	if err := w.write(ctx, r, expected, "approveRequestedChange"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationChanged, r.ID, r.RescheduledCount > 0)
	w.notify(ctx, r, w.notifierApproval)
	w.log(r.ID).Time("starts_at", r.StartsAt).Msg("change approved")
	return r, nil
}

// RejectWithSuggestion declines the client's request (if any) and counters
// with a different time. Valid while no operator suggestion is pending.
func (w *Workflow) RejectWithSuggestion(ctx context.Context, id int64, suggestedStart time.Time, durationMinutes *int, note string) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusPendingApproval || r.HasSuggestion() {
		return nil, w.conflict(r, "rejectWithSuggestion", "pending_approval without suggestion")
	}

	expected := r.Status
	now := time.Now()
	r.RequestedStartsAt = nil
	r.RequestedAt = nil
	r.SuggestedStartsAt = &suggestedStart
	r.SuggestedDurationMinutes = durationMinutes
	r.SuggestedNote = note
	r.SuggestionCreatedAt = &now

	if err := w.write(ctx, r, expected, "rejectWithSuggestion"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationChanged, r.ID, false)
	w.notify(ctx, r, w.notifierSuggestion)
	w.log(r.ID).Time("suggested_starts_at", suggestedStart).Msg("suggestion proposed")
	return r, nil
}

// ClientAcceptSuggestion adopts the operator's suggested time.
func (w *Workflow) ClientAcceptSuggestion(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusPendingApproval {
		return nil, w.conflict(r, "clientAcceptSuggestion", "pending_approval with suggestion")
	}
	if !r.HasSuggestion() {
		return nil, ErrNoSuggestion
	}

	expected := r.Status
	now := time.Now()
	newStart := *r.SuggestedStartsAt
	if err := w.ensureAvailable(ctx, newStart, effectiveDuration(r), r.ID); err != nil {
		return nil, err
	}

	applyStartChange(r, newStart, now)
	if r.SuggestedDurationMinutes != nil {
		r.DurationMinutes = *r.SuggestedDurationMinutes
	}
	r.Status = model.StatusConfirmed
	clearSuggestion(r)

	if err := w.write(ctx, r, expected, "clientAcceptSuggestion"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationChanged, r.ID, true)
	w.log(r.ID).Time("starts_at", r.StartsAt).Msg("suggestion accepted")
	return r, nil
}

// ClientRejectSuggestion discards the operator's suggestion, returning the
// reservation to pending approval with no proposal, so a new request can
// follow.
func (w *Workflow) ClientRejectSuggestion(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusPendingApproval || !r.HasSuggestion() {
		return nil, w.conflict(r, "clientRejectSuggestion", "pending_approval with suggestion")
	}

	expected := r.Status
	clearSuggestion(r)

	if err := w.write(ctx, r, expected, "clientRejectSuggestion"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationChanged, r.ID, false)
	w.log(r.ID).Msg("suggestion rejected")
	return r, nil
}

// Cancel transitions the reservation to its terminal state, clearing all
// negotiation and reminder fields.
func (w *Workflow) Cancel(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := w.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == model.StatusCanceled {
		return nil, w.conflict(r, "cancelAppointment", "not canceled")
	}

	expected := r.Status
	r.Status = model.StatusCanceled
	r.RequestedStartsAt = nil
	r.RequestedAt = nil
	clearSuggestion(r)
	r.ReminderSentAt = nil

	if err := w.write(ctx, r, expected, "cancelAppointment"); err != nil {
		return nil, err
	}
	w.publish(events.TypeReservationCanceled, r.ID, false)
	w.log(r.ID).Msg("reservation canceled")
	return r, nil
}

func (w *Workflow) ensureAvailable(ctx context.Context, start time.Time, durationMinutes int, excludeID int64) error {
	if w.checker == nil {
		return nil
	}
	ok, err := w.checker.IsSlotAvailable(ctx, start, durationMinutes, excludeID)
	if err != nil {
		return err
	}
	if !ok {
		return &availability.SlotUnavailableError{Start: start, Duration: durationMinutes}
	}
	return nil
}

// write commits the transition conditionally; a stale status is mapped to
// ConflictingStateError carrying the state actually found.
func (w *Workflow) write(ctx context.Context, r *model.Reservation, expectedStatus, operation string) error {
	err := w.store.UpdateReservationIfStatus(ctx, r, expectedStatus)
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrStaleState) {
		actual := "unknown"
		if current, ferr := w.store.GetReservation(ctx, r.ID); ferr == nil {
			actual = current.Status
		}
		return &ConflictingStateError{
			ReservationID: r.ID,
			Operation:     operation,
			Expected:      expectedStatus,
			Actual:        actual,
		}
	}
	return err
}

func (w *Workflow) conflict(r *model.Reservation, operation, expected string) error {
	return &ConflictingStateError{
		ReservationID: r.ID,
		Operation:     operation,
		Expected:      expected,
		Actual:        r.Status + "/" + r.SubState(),
	}
}

func (w *Workflow) publish(eventType string, id int64, startChanged bool) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(events.Event{Type: eventType, ReservationID: id, StartChanged: startChanged})
}

func (w *Workflow) notifierApproval(ctx context.Context, r *model.Reservation) error {
	return w.notifier.SendApproval(ctx, r)
}

func (w *Workflow) notifierSuggestion(ctx context.Context, r *model.Reservation) error {
	return w.notifier.SendSuggestion(ctx, r)
}

func (w *Workflow) notify(ctx context.Context, r *model.Reservation, send func(context.Context, *model.Reservation) error) {
	if w.notifier == nil {
		return
	}
	if err := send(ctx, r); err != nil && w.logger != nil {
		w.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("notification failed")
	}
}

func (w *Workflow) log(id int64) *zerolog.Event {
	if w.logger == nil {
		nop := zerolog.Nop()
		return nop.Info()
	}
	return w.logger.Info().Int64("reservation_id", id)
}

// applyStartChange moves the occupied interval and applies the reschedule
// audit bump as part of the same record: count up by one, first change
// stamped once, last change stamped always, pending reminder invalidated.
func applyStartChange(r *model.Reservation, newStart time.Time, now time.Time) {
	if newStart.Equal(r.StartsAt) {
		return
	}
	r.StartsAt = newStart
	r.RescheduledCount++
	if r.FirstRescheduledAt == nil {
		r.FirstRescheduledAt = &now
	}
	r.LastRescheduledAt = &now
	r.ReminderSentAt = nil
}

func clearSuggestion(r *model.Reservation) {
	r.SuggestedStartsAt = nil
	r.SuggestedDurationMinutes = nil
	r.SuggestedNote = ""
	r.SuggestionCreatedAt = nil
}

func effectiveDuration(r *model.Reservation) int {
	if r.SuggestedDurationMinutes != nil {
		return *r.SuggestedDurationMinutes
	}
	return r.DurationMinutes
}
