// Package gcal mirrors reservations into a Google Calendar. The sync is one
// way and best effort: calendar failures are logged, never surfaced to the
// booking workflow.
package gcal

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Event is the minimal view of a mirrored calendar entry.
type Event struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
}

// Calendar is the narrow surface the syncer needs.
type Calendar interface {
	CreateEvent(ctx context.Context, summary string, start, end time.Time) (string, error)
	UpdateEvent(ctx context.Context, eventID, summary string, start, end time.Time) error
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Service talks to the Google Calendar API with service-account credentials.
type Service struct {
	svc        *calendar.Service
	calendarID string
	location   *time.Location
}

// NewService builds a Calendar backed by the real API. credentialsFile is a
// service-account JSON key; calendarID is the target calendar (usually an
// address the service account was granted writer access on).
func NewService(ctx context.Context, credentialsFile, calendarID string, location *time.Location) (*Service, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("build calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if location == nil {
		location = time.UTC
	}
	return &Service{svc: svc, calendarID: calendarID, location: location}, nil
}

func (s *Service) event(summary string, start, end time.Time) *calendar.Event {
	tz := s.location.String()
	return &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{DateTime: start.In(s.location).Format(time.RFC3339), TimeZone: tz},
		End:     &calendar.EventDateTime{DateTime: end.In(s.location).Format(time.RFC3339), TimeZone: tz},
	}
}

// CreateEvent implements Calendar.
func (s *Service) CreateEvent(ctx context.Context, summary string, start, end time.Time) (string, error) {
	created, err := s.svc.Events.Insert(s.calendarID, s.event(summary, start, end)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent implements Calendar.
func (s *Service) UpdateEvent(ctx context.Context, eventID, summary string, start, end time.Time) error {
	_, err := s.svc.Events.Update(s.calendarID, eventID, s.event(summary, start, end)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent implements Calendar.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.svc.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// ListEvents implements Calendar, returning the mirrored events in [from, to].
func (s *Service) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	call := s.svc.Events.List(s.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var out []Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			e := Event{ID: item.Id, Summary: item.Summary}
			if item.Start != nil && item.Start.DateTime != "" {
				e.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
			}
			if item.End != nil && item.End.DateTime != "" {
				e.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}
