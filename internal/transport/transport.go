// Package transport abstracts the SMS delivery provider. The core treats the
// provider as an opaque boundary; the single structured failure it recognizes
// is the link-rejection class, matched by classification of the error text.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DeliveryResult is the outcome of one transport attempt.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// Transport sends one message to a destination address.
type Transport interface {
	// Name identifies the provider in message log entries.
	Name() string
	Send(ctx context.Context, toE164, body string) DeliveryResult
}

// TransportError wraps a delivery failure for callers that want an error
// value rather than a result struct.
type TransportError struct {
	Provider string
	Reason   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

// IsTransportError reports whether err wraps a TransportError.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// linkRejectionMarkers are the provider phrasings observed for the "links are
// not permitted" rejection class.
var linkRejectionMarkers = []string{
	"not allowed to send messages with link",
	"links are not permitted",
}

// IsLinkRejection classifies a provider error as the link-rejection class.
func IsLinkRejection(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range linkRejectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
