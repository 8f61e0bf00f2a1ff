package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the scheduling core.
type DB struct {
	*sql.DB
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite allows one writer; a single pooled connection avoids SQLITE_BUSY
	// under concurrent claims.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			full_name TEXT NOT NULL,
			phone_e164 TEXT NOT NULL,
			public_uid TEXT UNIQUE NOT NULL,
			sms_opt_out BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			starts_at DATETIME NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			status TEXT NOT NULL DEFAULT 'pending_approval',
			requested_starts_at DATETIME,
			requested_at DATETIME,
			suggested_starts_at DATETIME,
			suggested_duration_minutes INTEGER,
			suggested_note TEXT,
			suggestion_created_at DATETIME,
			send_reminder BOOLEAN NOT NULL DEFAULT 1,
			reminder_sent_at DATETIME,
			rescheduled_count INTEGER NOT NULL DEFAULT 0,
			first_rescheduled_at DATETIME,
			last_rescheduled_at DATETIME,
			external_event_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (client_id) REFERENCES clients(id)
		)`,

		`CREATE TABLE IF NOT EXISTS message_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			to_e164 TEXT NOT NULL,
			message_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			provider_message_id TEXT,
			reservation_id INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			sent_at DATETIME NOT NULL,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id),
			FOREIGN KEY (client_id) REFERENCES clients(id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_reservations_times ON reservations(starts_at, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_reminder ON reservations(status, send_reminder, reminder_sent_at, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_log_reservation ON message_log(reservation_id, status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Ping checks connectivity with a context.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
