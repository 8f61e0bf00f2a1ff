// Package availability computes bookable time slots and answers overlap
// queries over the reservation calendar.
package availability

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"terminarz/internal/model"
)

// Slot is a candidate bookable interval of fixed duration within business
// hours. Intervals are half-open: [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Display returns the slot start as "15:04" in its own location.
func (s Slot) Display() string {
	return s.Start.Format("15:04")
}

// Date returns the slot's calendar day as "2006-01-02".
func (s Slot) Date() string {
	return s.Start.Format("2006-01-02")
}

// Hours describes the fixed business hours the engine enumerates.
type Hours struct {
	Open         string // "09:00"
	Close        string // "17:00"
	StepMinutes  int    // candidate start increment
	SkipWeekends bool
	Location     *time.Location
}

// DefaultHours returns weekday business hours 09:00-17:00 on a 30 minute step.
func DefaultHours(loc *time.Location) Hours {
	if loc == nil {
		loc = time.UTC
	}
	return Hours{
		Open:         "09:00",
		Close:        "17:00",
		StepMinutes:  30,
		SkipWeekends: true,
		Location:     loc,
	}
}

// ReservationSource provides the occupied intervals the engine filters against.
type ReservationSource interface {
	ListOccupiedBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	ListOverlapping(ctx context.Context, start, end time.Time, excludeID int64) ([]model.Reservation, error)
}

// SlotUnavailableError indicates an overlap was detected for a candidate slot.
type SlotUnavailableError struct {
	Start    time.Time
	Duration int
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s (%d min) is not available", e.Start.Format(time.RFC3339), e.Duration)
}

// Engine enumerates candidate slots and answers single-slot queries.
type Engine struct {
	source ReservationSource
	hours  Hours
}

// NewEngine creates an availability engine over the given reservation source.
func NewEngine(source ReservationSource, hours Hours) *Engine {
	if hours.StepMinutes <= 0 {
		hours.StepMinutes = 30
	}
	if hours.Location == nil {
		hours.Location = time.UTC
	}
	return &Engine{source: source, hours: hours}
}

// Slots returns the available slots of the given duration for each business
// day in [from, to], in chronological order. The reservation set is fetched
// once; the returned sequence is pure, finite and restartable. Deterministic
// given the same reservation set.
func (e *Engine) Slots(ctx context.Context, from, to time.Time, durationMinutes int) (iter.Seq[Slot], error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}

	dayFrom := startOfDay(from.In(e.hours.Location))
	dayTo := startOfDay(to.In(e.hours.Location))
	if dayTo.Before(dayFrom) {
		return nil, fmt.Errorf("range end %s precedes start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	occupied, err := e.source.ListOccupiedBetween(ctx, dayFrom, dayTo.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("fetch reservations: %w", err)
	}

	duration := time.Duration(durationMinutes) * time.Minute
	step := time.Duration(e.hours.StepMinutes) * time.Minute

	return func(yield func(Slot) bool) {
		for day := dayFrom; !day.After(dayTo); day = day.AddDate(0, 0, 1) {
			if e.hours.SkipWeekends && isWeekend(day) {
				continue
			}

			open, err := timeOnDay(day, e.hours.Open)
			if err != nil {
				continue
			}
			close, err := timeOnDay(day, e.hours.Close)
			if err != nil {
				continue
			}

			for cursor := open; !cursor.Add(duration).After(close); cursor = cursor.Add(step) {
				slot := Slot{Start: cursor, End: cursor.Add(duration)}
				if overlapsAny(slot.Start, slot.End, occupied) {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}

// IsSlotAvailable checks whether [start, start+duration) is free of
// non-canceled reservations, excluding one reservation id (0 excludes
// nothing; pass the reservation's own id when validating its new time).
//
// This is a point-in-time read, not a transactional guarantee: the caller
// must re-check immediately before the confirming write. The residual race
// between that read and the write is a documented limitation.
func (e *Engine) IsSlotAvailable(ctx context.Context, start time.Time, durationMinutes int, excludeID int64) (bool, error) {
	if durationMinutes <= 0 {
		return false, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	overlapping, err := e.source.ListOverlapping(ctx, start, end, excludeID)
	if err != nil {
		return false, fmt.Errorf("query overlaps: %w", err)
	}
	// The store narrows to plausible rows; confirm with the exact predicate.
	return !overlapsAny(start, end, overlapping), nil
}

func overlapsAny(start, end time.Time, reservations []model.Reservation) bool {
	for i := range reservations {
		r := &reservations[i]
		if r.Occupies() && r.OverlapsInterval(start, end) {
			return true
		}
	}
	return false
}

func isWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func timeOnDay(day time.Time, clock string) (time.Time, error) {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}
