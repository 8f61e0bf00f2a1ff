package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogTransport writes messages to the process log instead of a provider.
// Used in development and as a safe default when no token is configured.
type LogTransport struct {
	logger *zerolog.Logger
}

// NewLogTransport constructs the log-only driver.
func NewLogTransport(logger *zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Name implements Transport.
func (t *LogTransport) Name() string { return "log" }

// Send implements Transport. Always succeeds.
func (t *LogTransport) Send(_ context.Context, toE164, body string) DeliveryResult {
	id := fmt.Sprintf("log-%s", uuid.NewString())
	if t.logger != nil {
		t.logger.Info().Str("to", toE164).Str("body", body).Str("message_id", id).Msg("sms (log driver)")
	}
	return DeliveryResult{Success: true, ProviderMessageID: id}
}
