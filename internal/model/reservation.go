package model

import "time"

// Reservation status values. Exactly one holds at any time.
const (
	StatusConfirmed       = "confirmed"
	StatusPendingApproval = "pending_approval"
	StatusCanceled        = "canceled"
)

// Reservation represents one booked or requested appointment.
// The occupied interval is [StartsAt, StartsAt+DurationMinutes), half-open:
// a reservation ending exactly when another begins does not overlap it.
type Reservation struct {
	ID              int64     `json:"id"`
	ClientID        int64     `json:"client_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`

	// Negotiation sub-state, valid only while Status is pending_approval.
	// A client request and an operator suggestion are mutually exclusive.
	RequestedStartsAt        *time.Time `json:"requested_starts_at,omitempty"`
	RequestedAt              *time.Time `json:"requested_at,omitempty"`
	SuggestedStartsAt        *time.Time `json:"suggested_starts_at,omitempty"`
	SuggestedDurationMinutes *int       `json:"suggested_duration_minutes,omitempty"`
	SuggestedNote            string     `json:"suggested_note,omitempty"`
	SuggestionCreatedAt      *time.Time `json:"suggestion_created_at,omitempty"`

	// Reminder state. ReminderSentAt doubles as the idempotency claim.
	SendReminder   bool       `json:"send_reminder"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`

	// Reschedule audit, bumped whenever StartsAt changes.
	RescheduledCount   int        `json:"rescheduled_count"`
	FirstRescheduledAt *time.Time `json:"first_rescheduled_at,omitempty"`
	LastRescheduledAt  *time.Time `json:"last_rescheduled_at,omitempty"`

	// Identifier assigned by the external calendar collaborator, if synced.
	ExternalEventID string `json:"external_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndsAt returns the exclusive end of the occupied interval.
func (r *Reservation) EndsAt() time.Time {
	return r.StartsAt.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// Occupies reports whether the reservation blocks the calendar.
func (r *Reservation) Occupies() bool {
	return r.Status != StatusCanceled
}

// OverlapsInterval reports whether the reservation's interval intersects
// [start, end). Half-open on both sides.
func (r *Reservation) OverlapsInterval(start, end time.Time) bool {
	return r.StartsAt.Before(end) && r.EndsAt().After(start)
}

// HasClientRequest reports whether a client reschedule request is pending.
func (r *Reservation) HasClientRequest() bool {
	return r.RequestedStartsAt != nil
}

// HasSuggestion reports whether an operator counter-suggestion is pending.
func (r *Reservation) HasSuggestion() bool {
	return r.SuggestedStartsAt != nil
}

// SubState describes the negotiation sub-state of a pending reservation.
func (r *Reservation) SubState() string {
	switch {
	case r.HasClientRequest():
		return "client_requested"
	case r.HasSuggestion():
		return "operator_suggested"
	default:
		return "no_proposal"
	}
}
