// Package scheduler drives periodic reminder dispatch. A ticker loop picks
// candidate reservations according to the configured policy and fans each one
// out to the notification pipeline under a concurrency cap. The pipeline's
// conditional claim makes overlapping runs safe; the scheduler itself holds no
// per-reservation state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"terminarz/internal/model"
	"terminarz/internal/notify"
	"terminarz/internal/transport"
)

// Policy selects how candidate reservations are picked each tick.
type Policy string

const (
	// PolicyRelative sends a reminder a fixed number of hours before each
	// appointment, scanning the window [now+offset, now+offset+window).
	PolicyRelative Policy = "relative"
	// PolicyDaily sends, once a day at SendTime, reminders for every
	// appointment scheduled tomorrow.
	PolicyDaily Policy = "daily"
)

// Config controls the dispatch loop.
type Config struct {
	Policy Policy

	// Relative policy: how far ahead of the appointment to send, and how
	// wide a slice of appointments one tick covers. Window should be at
	// least the tick interval or appointments can fall through the gaps.
	OffsetHours int
	WindowHours int

	// Daily policy: local time of day the batch fires, and the latest
	// time the same day a missed batch may still catch up. Cutoff is
	// mandatory for the daily policy.
	SendTime string
	Cutoff   string

	// TickInterval is how often the loop wakes up. Default 5 minutes.
	TickInterval time.Duration

	// MaxConcurrent caps parallel sends per tick. Default 10.
	MaxConcurrent int

	// ReleaseZombieClaims enables the diagnostic that clears claims older
	// than ZombieAge with no successful delivery logged.
	ReleaseZombieClaims bool
	ZombieAge           time.Duration
}

// Validate rejects configurations that would silently misbehave.
func (c *Config) Validate() error {
	switch c.Policy {
	case PolicyRelative:
		if c.OffsetHours <= 0 {
			return errors.New("relative policy requires a positive offset")
		}
		if c.WindowHours <= 0 {
			return errors.New("relative policy requires a positive window")
		}
	case PolicyDaily:
		if _, err := parseClock(c.SendTime); err != nil {
			return fmt.Errorf("daily policy send time: %w", err)
		}
		if c.Cutoff == "" {
			return errors.New("daily policy requires a cutoff time")
		}
		if _, err := parseClock(c.Cutoff); err != nil {
			return fmt.Errorf("daily policy cutoff: %w", err)
		}
	default:
		return fmt.Errorf("unknown reminder policy %q", c.Policy)
	}
	return nil
}

// Store is the persistence surface the scheduler reads.
type Store interface {
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	ListZombieClaims(ctx context.Context, cutoff time.Time) ([]model.Reservation, error)
	ReleaseReminderClaim(ctx context.Context, id int64) error
	HasDeliveredReminder(ctx context.Context, reservationID int64) (bool, error)
}

// Dispatcher is the notification pipeline entry point.
type Dispatcher interface {
	Send(ctx context.Context, r *model.Reservation, kind notify.Kind, force bool) (transport.DeliveryResult, error)
}

// Scheduler runs the dispatch loop.
type Scheduler struct {
	config   Config
	store    Store
	sender   Dispatcher
	location *time.Location
	logger   *zerolog.Logger

	mu          sync.Mutex
	running     bool
	lastRunDate string
	stopCh      chan struct{}
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates a scheduler. location is the business timezone the daily policy
// interprets clock times in.
func New(config Config, store Store, sender Dispatcher, location *time.Location, logger *zerolog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.TickInterval == 0 {
		config.TickInterval = 5 * time.Minute
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 10
	}
	if config.ZombieAge == 0 {
		config.ZombieAge = time.Hour
	}
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		config:   config,
		store:    store,
		sender:   sender,
		location: location,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start launches the loop. It returns immediately; Stop or ctx cancellation
// ends the loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Str("policy", string(s.config.Policy)).
		Dur("tick_interval", s.config.TickInterval).
		Msg("reminder scheduler started")

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for in-flight sends to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("reminder scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	switch s.config.Policy {
	case PolicyRelative:
		from := s.now().Add(time.Duration(s.config.OffsetHours) * time.Hour)
		to := from.Add(time.Duration(s.config.WindowHours) * time.Hour)
		s.dispatchWindow(ctx, from, to)
	case PolicyDaily:
		s.tickDaily(ctx)
	}

	if s.config.ReleaseZombieClaims {
		s.releaseZombies(ctx)
	}
}

// tickDaily fires the batch once per local day, inside [SendTime, Cutoff].
// A tick missed at SendTime is caught up by any later tick before the cutoff;
// past the cutoff the day is skipped entirely, so a process restarted late in
// the evening stays quiet until the next day.
func (s *Scheduler) tickDaily(ctx context.Context) {
	now := s.now().In(s.location)
	today := now.Format("2006-01-02")

	s.mu.Lock()
	alreadyRan := s.lastRunDate == today
	s.mu.Unlock()
	if alreadyRan {
		return
	}

	sendAt, _ := parseClock(s.config.SendTime)
	cutoff, _ := parseClock(s.config.Cutoff)
	if now.Before(onDay(now, sendAt, s.location)) || now.After(onDay(now, cutoff, s.location)) {
		return
	}

	s.mu.Lock()
	s.lastRunDate = today
	s.mu.Unlock()

	from, to := s.dailyWindow(now)
	s.dispatchWindow(ctx, from, to)
}

// dailyWindow covers the whole of tomorrow's local day, midnight to midnight.
func (s *Scheduler) dailyWindow(now time.Time) (time.Time, time.Time) {
	tomorrow := now.In(s.location).AddDate(0, 0, 1)
	from := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, s.location)
	return from, from.AddDate(0, 0, 1)
}

func (s *Scheduler) dispatchWindow(ctx context.Context, from, to time.Time) {
	candidates, err := s.store.ListReminderCandidates(ctx, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list reminder candidates")
		return
	}
	if len(candidates) == 0 {
		return
	}

	s.logger.Info().
		Int("count", len(candidates)).
		Time("from", from).
		Time("to", to).
		Msg("dispatching reminders")

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range candidates {
		r := candidates[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.dispatchOne(ctx, &r)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) dispatchOne(ctx context.Context, r *model.Reservation) {
	_, err := s.sender.Send(ctx, r, notify.KindReminder, false)
	switch {
	case err == nil:
		return
	case notify.IsLockContention(err):
		// Another worker got there first; nothing to do.
	default:
		if _, ok := notify.IsGuardRejected(err); ok {
			return
		}
		s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("reminder dispatch failed")
	}
}

// RunNow triggers one immediate dispatch pass outside the ticker, using the
// configured policy's window. Used by the manual CLI and tests.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.logger.Info().Msg("manual reminder dispatch triggered")
	switch s.config.Policy {
	case PolicyRelative:
		from := s.now().Add(time.Duration(s.config.OffsetHours) * time.Hour)
		to := from.Add(time.Duration(s.config.WindowHours) * time.Hour)
		s.dispatchWindow(ctx, from, to)
	case PolicyDaily:
		from, to := s.dailyWindow(s.now().In(s.location))
		s.dispatchWindow(ctx, from, to)
	}
}

// releaseZombies clears claims that are old enough to be stale yet have no
// successful delivery on record. A claim can strand when the process dies
// between claiming and the transport call.
func (s *Scheduler) releaseZombies(ctx context.Context) {
	cutoff := s.now().Add(-s.config.ZombieAge)
	zombies, err := s.store.ListZombieClaims(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list zombie claims")
		return
	}
	for i := range zombies {
		r := &zombies[i]
		delivered, err := s.store.HasDeliveredReminder(ctx, r.ID)
		if err != nil || delivered {
			continue
		}
		if err := s.store.ReleaseReminderClaim(ctx, r.ID); err != nil {
			s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("failed to release zombie claim")
			continue
		}
		s.logger.Warn().
			Int64("reservation_id", r.ID).
			Time("claimed_at", *r.ReminderSentAt).
			Msg("released stale reminder claim with no delivery on record")
	}
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type clock struct {
	hour, minute int
}

func parseClock(v string) (clock, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return clock{}, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

func onDay(day time.Time, c clock, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, loc)
}
