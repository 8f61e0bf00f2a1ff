package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminarz/internal/model"
)

// staticSource serves a fixed reservation set.
type staticSource struct {
	reservations []model.Reservation
}

func (s *staticSource) ListOccupiedBetween(_ context.Context, from, to time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.Occupies() && r.OverlapsInterval(from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *staticSource) ListOverlapping(_ context.Context, start, end time.Time, excludeID int64) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.ID == excludeID {
			continue
		}
		if r.Occupies() && r.OverlapsInterval(start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// monday is a fixed weekday anchor.
var monday = time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(monday.Year(), monday.Month(), monday.Day(), hour, minute, 0, 0, time.UTC)
}

func reserved(id int64, start time.Time, minutes int) model.Reservation {
	return model.Reservation{ID: id, StartsAt: start, DurationMinutes: minutes, Status: model.StatusConfirmed}
}

func collect(t *testing.T, e *Engine, from, to time.Time, duration int) []Slot {
	t.Helper()
	seq, err := e.Slots(context.Background(), from, to, duration)
	require.NoError(t, err)
	var out []Slot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

func starts(slots []Slot) []string {
	var out []string
	for _, s := range slots {
		out = append(out, s.Display())
	}
	return out
}

func TestSlotsAroundSingleReservation(t *testing.T) {
	// One hour booked 10:00-11:00. For 60 minute slots on a 30 minute step
	// the 09:30 candidate collides (it would run into 10:00-10:30), while
	// 09:00-10:00 and 11:00-12:00 touch the booking without overlapping.
	src := &staticSource{reservations: []model.Reservation{reserved(1, at(10, 0), 60)}}
	e := NewEngine(src, Hours{Open: "09:00", Close: "12:00", StepMinutes: 30, Location: time.UTC})

	got := starts(collect(t, e, monday, monday, 60))
	assert.Equal(t, []string{"09:00", "11:00"}, got)
}

func TestSlotsHalfOpenBoundaries(t *testing.T) {
	src := &staticSource{reservations: []model.Reservation{reserved(1, at(10, 0), 60)}}
	e := NewEngine(src, Hours{Open: "09:00", Close: "17:00", StepMinutes: 30, Location: time.UTC})

	ok, err := e.IsSlotAvailable(context.Background(), at(9, 0), 60, 0)
	require.NoError(t, err)
	assert.True(t, ok, "slot ending exactly at a booking's start is free")

	ok, err = e.IsSlotAvailable(context.Background(), at(11, 0), 60, 0)
	require.NoError(t, err)
	assert.True(t, ok, "slot starting exactly at a booking's end is free")

	ok, err = e.IsSlotAvailable(context.Background(), at(10, 30), 60, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanceledReservationDoesNotBlock(t *testing.T) {
	canceled := reserved(1, at(10, 0), 60)
	canceled.Status = model.StatusCanceled
	src := &staticSource{reservations: []model.Reservation{canceled}}
	e := NewEngine(src, Hours{Open: "09:00", Close: "17:00", StepMinutes: 30, Location: time.UTC})

	ok, err := e.IsSlotAvailable(context.Background(), at(10, 0), 60, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExcludeIDIgnoresOwnInterval(t *testing.T) {
	src := &staticSource{reservations: []model.Reservation{reserved(7, at(10, 0), 60)}}
	e := NewEngine(src, Hours{Open: "09:00", Close: "17:00", StepMinutes: 30, Location: time.UTC})

	ok, err := e.IsSlotAvailable(context.Background(), at(10, 30), 60, 7)
	require.NoError(t, err)
	assert.True(t, ok, "a reservation does not conflict with itself when moving")
}

func TestSlotsSkipWeekends(t *testing.T) {
	src := &staticSource{}
	e := NewEngine(src, Hours{Open: "09:00", Close: "10:00", StepMinutes: 30, SkipWeekends: true, Location: time.UTC})

	saturday := monday.AddDate(0, 0, 5)
	sunday := monday.AddDate(0, 0, 6)
	nextMonday := monday.AddDate(0, 0, 7)

	slots := collect(t, e, saturday, nextMonday, 60)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.NotEqual(t, time.Saturday, s.Start.Weekday())
		assert.NotEqual(t, time.Sunday, s.Start.Weekday())
	}
	assert.Empty(t, collect(t, e, saturday, sunday, 60))
}

func TestSlotsFitWithinClosingTime(t *testing.T) {
	src := &staticSource{}
	e := NewEngine(src, Hours{Open: "09:00", Close: "10:30", StepMinutes: 30, Location: time.UTC})

	got := starts(collect(t, e, monday, monday, 60))
	assert.Equal(t, []string{"09:00", "09:30"}, got, "a slot must end by closing time")
}

func TestSlotsSequenceIsRestartable(t *testing.T) {
	src := &staticSource{reservations: []model.Reservation{reserved(1, at(10, 0), 60)}}
	e := NewEngine(src, Hours{Open: "09:00", Close: "12:00", StepMinutes: 30, Location: time.UTC})

	seq, err := e.Slots(context.Background(), monday, monday, 60)
	require.NoError(t, err)

	var first, second []Slot
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	assert.Equal(t, first, second, "the sequence replays identically")

	// Early break must not poison later iterations.
	for range seq {
		break
	}
	var third []Slot
	for s := range seq {
		third = append(third, s)
	}
	assert.Equal(t, first, third)
}

func TestSlotsRejectsInvalidInput(t *testing.T) {
	e := NewEngine(&staticSource{}, DefaultHours(time.UTC))

	_, err := e.Slots(context.Background(), monday, monday, 0)
	assert.Error(t, err)

	_, err = e.Slots(context.Background(), monday, monday.AddDate(0, 0, -1), 60)
	assert.Error(t, err)
}
