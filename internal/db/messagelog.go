package db

import (
	"context"
	"fmt"

	"terminarz/internal/model"
)

// AppendMessageLog records one delivery attempt. Entries are never updated;
// the pipeline appends a fresh row per attempt, retries included.
func (db *DB) AppendMessageLog(ctx context.Context, e *model.MessageLogEntry) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO message_log (
			provider, to_e164, message_hash, status, error,
			provider_message_id, reservation_id, client_id, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Provider, e.ToE164, e.MessageHash, e.Status, nullString(e.Error),
		nullString(e.ProviderMessageID), e.ReservationID, e.ClientID, e.SentAt,
	)
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListMessageLog returns all attempts for a reservation, oldest first.
func (db *DB) ListMessageLog(ctx context.Context, reservationID int64) ([]model.MessageLogEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider, to_e164, message_hash, status,
		       COALESCE(error, ''), COALESCE(provider_message_id, ''),
		       reservation_id, client_id, sent_at
		FROM message_log WHERE reservation_id = ? ORDER BY id`,
		reservationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MessageLogEntry
	for rows.Next() {
		var e model.MessageLogEntry
		if err := rows.Scan(
			&e.ID, &e.Provider, &e.ToE164, &e.MessageHash, &e.Status,
			&e.Error, &e.ProviderMessageID, &e.ReservationID, &e.ClientID, &e.SentAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasDeliveredReminder reports whether any successful delivery entry exists
// for the reservation. Read only by the zombie-claim diagnostic.
func (db *DB) HasDeliveredReminder(ctx context.Context, reservationID int64) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_log
		WHERE reservation_id = ? AND status = ?`,
		reservationID, model.MessageStatusSuccess,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
