package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message log outcome values.
const (
	MessageStatusSuccess = "success"
	MessageStatusFailed  = "failed"
)

// MessageLogEntry records one delivery attempt. Entries are append-only and
// never updated; a retry produces a second entry. Bodies are stored as a
// SHA-256 hash so the log stays auditable without retaining message text.
type MessageLogEntry struct {
	ID                int64     `json:"id"`
	Provider          string    `json:"provider"`
	ToE164            string    `json:"to_e164"`
	MessageHash       string    `json:"message_hash"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ReservationID     int64     `json:"reservation_id"`
	ClientID          int64     `json:"client_id"`
	SentAt            time.Time `json:"sent_at"`
}

// HashMessage returns the hex SHA-256 of a message body.
func HashMessage(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
