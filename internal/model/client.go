package model

import "time"

// Client is the end-client side of an appointment. PublicUID keys the
// unauthenticated self-service link included in outgoing messages.
type Client struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	PhoneE164 string    `json:"phone_e164"`
	PublicUID string    `json:"public_uid"`
	SMSOptOut bool      `json:"sms_opt_out"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
