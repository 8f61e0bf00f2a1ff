package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"terminarz/internal/model"

	"github.com/google/uuid"
)

// CreateClient inserts a client, assigning a public UID when absent.
func (db *DB) CreateClient(ctx context.Context, c *model.Client) error {
	if c.PublicUID == "" {
		c.PublicUID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	res, err := db.ExecContext(ctx, `
		INSERT INTO clients (full_name, phone_e164, public_uid, sms_opt_out, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.FullName, c.PhoneE164, c.PublicUID, c.SMSOptOut, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetClient returns a client by id.
func (db *DB) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var c model.Client
	err := db.QueryRowContext(ctx, `
		SELECT id, full_name, phone_e164, public_uid, sms_opt_out, created_at, updated_at
		FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.FullName, &c.PhoneE164, &c.PublicUID, &c.SMSOptOut, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "client", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetClientOptOut updates the client-level SMS veto.
func (db *DB) SetClientOptOut(ctx context.Context, id int64, optOut bool) error {
	_, err := db.ExecContext(ctx, `
		UPDATE clients SET sms_opt_out = ?, updated_at = ? WHERE id = ?`,
		optOut, time.Now(), id,
	)
	return err
}
