package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"terminarz/internal/model"
)

const reservationColumns = `id, client_id, starts_at, duration_minutes, status,
	requested_starts_at, requested_at,
	suggested_starts_at, suggested_duration_minutes, suggested_note, suggestion_created_at,
	send_reminder, reminder_sent_at,
	rescheduled_count, first_rescheduled_at, last_rescheduled_at,
	external_event_id, created_at, updated_at`

// CreateReservation inserts a reservation and sets its ID.
func (db *DB) CreateReservation(ctx context.Context, r *model.Reservation) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	res, err := db.ExecContext(ctx, `
		INSERT INTO reservations (
			client_id, starts_at, duration_minutes, status,
			requested_starts_at, requested_at,
			suggested_starts_at, suggested_duration_minutes, suggested_note, suggestion_created_at,
			send_reminder, reminder_sent_at,
			rescheduled_count, first_rescheduled_at, last_rescheduled_at,
			external_event_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ClientID, r.StartsAt, r.DurationMinutes, r.Status,
		r.RequestedStartsAt, r.RequestedAt,
		r.SuggestedStartsAt, r.SuggestedDurationMinutes, nullString(r.SuggestedNote), r.SuggestionCreatedAt,
		r.SendReminder, r.ReminderSentAt,
		r.RescheduledCount, r.FirstRescheduledAt, r.LastRescheduledAt,
		r.ExternalEventID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// GetReservation returns a reservation by id.
func (db *DB) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "reservation", ID: id}
	}
	return r, err
}

// ListOccupiedBetween returns non-canceled reservations whose interval could
// intersect [from, to). Used by the availability engine's day walk.
func (db *DB) ListOccupiedBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status != ?
		  AND starts_at < ?
		  AND datetime(starts_at, '+' || duration_minutes || ' minutes') > ?
		ORDER BY starts_at`,
		model.StatusCanceled, to, from,
	)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListOverlapping returns non-canceled reservations overlapping [start, end),
// excluding one reservation id (0 excludes nothing). The query is narrowed to
// rows that could possibly overlap; half-open semantics hold at the boundary.
func (db *DB) ListOverlapping(ctx context.Context, start, end time.Time, excludeID int64) ([]model.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status != ?
		  AND id != ?
		  AND starts_at < ?
		  AND datetime(starts_at, '+' || duration_minutes || ' minutes') > ?
		ORDER BY starts_at`,
		model.StatusCanceled, excludeID, end, start,
	)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// ListReminderCandidates returns confirmed, reminder-enabled reservations with
// no reminder sent, starting within [from, to), whose client has not opted out.
// Rows come back in chronological order.
func (db *DB) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.client_id, r.starts_at, r.duration_minutes, r.status,
		       r.requested_starts_at, r.requested_at,
		       r.suggested_starts_at, r.suggested_duration_minutes, r.suggested_note, r.suggestion_created_at,
		       r.send_reminder, r.reminder_sent_at,
		       r.rescheduled_count, r.first_rescheduled_at, r.last_rescheduled_at,
		       r.external_event_id, r.created_at, r.updated_at
		FROM reservations r
		JOIN clients c ON c.id = r.client_id
		WHERE r.status = ?
		  AND r.send_reminder = 1
		  AND r.reminder_sent_at IS NULL
		  AND c.sms_opt_out = 0
		  AND r.starts_at >= ? AND r.starts_at < ?
		ORDER BY r.starts_at`,
		model.StatusConfirmed, from, to,
	)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// UpdateReservationIfStatus writes the whole record conditionally on the row
// still holding expectedStatus. Zero affected rows yields ErrStaleState; the
// caller refetches and decides. This is the serialization point for all
// lifecycle transitions.
func (db *DB) UpdateReservationIfStatus(ctx context.Context, r *model.Reservation, expectedStatus string) error {
	r.UpdatedAt = time.Now()

	res, err := db.ExecContext(ctx, `
		UPDATE reservations SET
			starts_at = ?, duration_minutes = ?, status = ?,
			requested_starts_at = ?, requested_at = ?,
			suggested_starts_at = ?, suggested_duration_minutes = ?, suggested_note = ?, suggestion_created_at = ?,
			send_reminder = ?, reminder_sent_at = ?,
			rescheduled_count = ?, first_rescheduled_at = ?, last_rescheduled_at = ?,
			external_event_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		r.StartsAt, r.DurationMinutes, r.Status,
		r.RequestedStartsAt, r.RequestedAt,
		r.SuggestedStartsAt, r.SuggestedDurationMinutes, nullString(r.SuggestedNote), r.SuggestionCreatedAt,
		r.SendReminder, r.ReminderSentAt,
		r.RescheduledCount, r.FirstRescheduledAt, r.LastRescheduledAt,
		r.ExternalEventID, r.UpdatedAt,
		r.ID, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

// ClaimReminder atomically flips reminder_sent_at from NULL to at. Returns
// false when another process already holds the claim. This must stay a single
// conditional write; a read-then-write would let two claimants through.
func (db *DB) ClaimReminder(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE reservations SET reminder_sent_at = ?, updated_at = ?
		WHERE id = ? AND reminder_sent_at IS NULL`,
		at, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseReminderClaim rolls the claim back to NULL so a later pass may retry.
func (db *DB) ReleaseReminderClaim(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE reservations SET reminder_sent_at = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("release reminder claim %d: %w", id, err)
	}
	return nil
}

// ListZombieClaims returns reservations whose reminder claim is older than
// cutoff yet has no successful delivery entry in the message log.
func (db *DB) ListZombieClaims(ctx context.Context, cutoff time.Time) ([]model.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ?
		  AND reminder_sent_at IS NOT NULL
		  AND reminder_sent_at < ?
		  AND starts_at > ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_log m
			WHERE m.reservation_id = reservations.id AND m.status = ?
		  )
		ORDER BY reminder_sent_at`,
		model.StatusConfirmed, cutoff, time.Now(), model.MessageStatusSuccess,
	)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// SetExternalEventID stores the id returned by the calendar collaborator.
func (db *DB) SetExternalEventID(ctx context.Context, id int64, externalID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE reservations SET external_event_id = ?, updated_at = ?
		WHERE id = ?`,
		externalID, time.Now(), id,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	var requestedStartsAt, requestedAt sql.NullTime
	var suggestedStartsAt, suggestionCreatedAt sql.NullTime
	var suggestedDuration sql.NullInt64
	var suggestedNote sql.NullString
	var reminderSentAt, firstRescheduledAt, lastRescheduledAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.ClientID, &r.StartsAt, &r.DurationMinutes, &r.Status,
		&requestedStartsAt, &requestedAt,
		&suggestedStartsAt, &suggestedDuration, &suggestedNote, &suggestionCreatedAt,
		&r.SendReminder, &reminderSentAt,
		&r.RescheduledCount, &firstRescheduledAt, &lastRescheduledAt,
		&r.ExternalEventID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RequestedStartsAt = timePtr(requestedStartsAt)
	r.RequestedAt = timePtr(requestedAt)
	r.SuggestedStartsAt = timePtr(suggestedStartsAt)
	r.SuggestionCreatedAt = timePtr(suggestionCreatedAt)
	r.ReminderSentAt = timePtr(reminderSentAt)
	r.FirstRescheduledAt = timePtr(firstRescheduledAt)
	r.LastRescheduledAt = timePtr(lastRescheduledAt)
	if suggestedDuration.Valid {
		d := int(suggestedDuration.Int64)
		r.SuggestedDurationMinutes = &d
	}
	if suggestedNote.Valid {
		r.SuggestedNote = suggestedNote.String
	}
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
