package gcal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"terminarz/internal/events"
	"terminarz/internal/model"
)

// Store is the persistence surface the syncer reads and writes.
type Store interface {
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	GetClient(ctx context.Context, id int64) (*model.Client, error)
	SetExternalEventID(ctx context.Context, id int64, externalID string) error
}

// Syncer reacts to workflow events and mirrors them into the calendar. The
// calendar event id is stored back on the reservation so later changes and
// cancellations address the same event.
type Syncer struct {
	calendar Calendar
	store    Store
	logger   *zerolog.Logger
	timeout  time.Duration
}

// NewSyncer wires a syncer.
func NewSyncer(calendar Calendar, store Store, logger *zerolog.Logger) *Syncer {
	return &Syncer{calendar: calendar, store: store, logger: logger, timeout: 30 * time.Second}
}

// Subscribe attaches the syncer to the event bus.
func (s *Syncer) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TypeReservationCreated, s.onCreated)
	bus.Subscribe(events.TypeReservationChanged, s.onChanged)
	bus.Subscribe(events.TypeReservationCanceled, s.onCanceled)
}

func (s *Syncer) onCreated(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	r, summary, err := s.load(ctx, e.ReservationID)
	if err != nil {
		s.fail(e.ReservationID, "load reservation", err)
		return
	}
	eventID, err := s.calendar.CreateEvent(ctx, summary, r.StartsAt, r.EndsAt())
	if err != nil {
		s.fail(r.ID, "create calendar event", err)
		return
	}
	if err := s.store.SetExternalEventID(ctx, r.ID, eventID); err != nil {
		s.fail(r.ID, "store calendar event id", err)
	}
}

func (s *Syncer) onChanged(e events.Event) {
	if !e.StartChanged {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	r, summary, err := s.load(ctx, e.ReservationID)
	if err != nil {
		s.fail(e.ReservationID, "load reservation", err)
		return
	}
	if r.ExternalEventID == "" {
		// Never mirrored; treat the change as a create.
		s.onCreated(events.Event{Type: events.TypeReservationCreated, ReservationID: e.ReservationID})
		return
	}
	if err := s.calendar.UpdateEvent(ctx, r.ExternalEventID, summary, r.StartsAt, r.EndsAt()); err != nil {
		s.fail(r.ID, "update calendar event", err)
	}
}

func (s *Syncer) onCanceled(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	r, err := s.store.GetReservation(ctx, e.ReservationID)
	if err != nil {
		s.fail(e.ReservationID, "load reservation", err)
		return
	}
	if r.ExternalEventID == "" {
		return
	}
	if err := s.calendar.DeleteEvent(ctx, r.ExternalEventID); err != nil {
		s.fail(r.ID, "delete calendar event", err)
	}
}

func (s *Syncer) load(ctx context.Context, id int64) (*model.Reservation, string, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, "", err
	}
	client, err := s.store.GetClient(ctx, r.ClientID)
	if err != nil {
		return nil, "", err
	}
	return r, fmt.Sprintf("Wizyta: %s", client.FullName), nil
}

func (s *Syncer) fail(id int64, op string, err error) {
	if s.logger != nil {
		s.logger.Error().Err(err).Int64("reservation_id", id).Msg(op + " failed")
	}
}
