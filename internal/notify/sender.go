// Package notify is the outbound message pipeline: guards, the conditional
// reminder claim, template composition, the transport call, the append-only
// message log, and the single link-rejection retry.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"terminarz/internal/model"
	"terminarz/internal/transport"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetClient(ctx context.Context, id int64) (*model.Client, error)
	ClaimReminder(ctx context.Context, id int64, at time.Time) (bool, error)
	ReleaseReminderClaim(ctx context.Context, id int64) error
	AppendMessageLog(ctx context.Context, e *model.MessageLogEntry) error
}

// Sender runs the delivery pipeline for one message at a time. It is safe for
// concurrent use; the claim column is the only cross-worker coordination.
type Sender struct {
	store     Store
	transport transport.Transport
	composer  *Composer
	limiter   *rate.Limiter
	logger    *zerolog.Logger

	now func() time.Time
}

// NewSender wires the pipeline. limiter may be nil to disable rate limiting.
func NewSender(store Store, tr transport.Transport, composer *Composer, limiter *rate.Limiter, logger *zerolog.Logger) *Sender {
	return &Sender{
		store:     store,
		transport: tr,
		composer:  composer,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// Send delivers one message of the given kind for the reservation.
//
// For the reminder kind the full guard sequence applies, then the conditional
// claim; losing the claim race returns LockContentionError. Other kinds only
// honor the opt-out guard since they are triggered by an explicit operator or
// client action. force skips every guard but never overwrites an existing
// claim.
//
// Every transport attempt, retry included, lands in the message log. On final
// failure a claim taken by this call is rolled back so the reservation stays
// eligible for the next pass.
func (s *Sender) Send(ctx context.Context, r *model.Reservation, kind Kind, force bool) (transport.DeliveryResult, error) {
	start := s.now()

	client, err := s.store.GetClient(ctx, r.ClientID)
	if err != nil {
		return transport.DeliveryResult{}, err
	}

	if !force {
		if reason := s.guard(r, client, kind); reason != "" {
			guardRejectionsTotal.WithLabelValues(reason).Inc()
			s.log(r.ID).Str("reason", reason).Msg("send rejected by guard")
			return transport.DeliveryResult{}, &GuardRejectedError{ReservationID: r.ID, Reason: reason}
		}
	}

	claimed := false
	if kind == KindReminder && r.ReminderSentAt == nil {
		ok, err := s.store.ClaimReminder(ctx, r.ID, s.now())
		if err != nil {
			return transport.DeliveryResult{}, err
		}
		if !ok {
			lockContentionTotal.Inc()
			s.log(r.ID).Msg("reminder claim lost to another worker")
			return transport.DeliveryResult{}, &LockContentionError{ReservationID: r.ID}
		}
		claimed = true
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if claimed {
				s.rollback(ctx, r.ID)
			}
			return transport.DeliveryResult{}, err
		}
	}

	result, err := s.attempt(ctx, r, client, kind, false)
	if err != nil {
		if claimed {
			s.rollback(ctx, r.ID)
		}
		return transport.DeliveryResult{}, err
	}

	if !result.Success && transport.IsLinkRejection(result.Error) && s.composer.HasNoLinkVariant(kind) {
		linkRetriesTotal.Inc()
		s.log(r.ID).Str("error", result.Error).Msg("link rejected, retrying without link")
		result, err = s.attempt(ctx, r, client, kind, true)
		if err != nil {
			if claimed {
				s.rollback(ctx, r.ID)
			}
			return transport.DeliveryResult{}, err
		}
	}

	sendDuration.Observe(s.now().Sub(start).Seconds())
	if result.Success {
		sendsTotal.WithLabelValues(string(kind), outcomeSuccess).Inc()
		s.log(r.ID).Str("kind", string(kind)).Str("message_id", result.ProviderMessageID).Msg("message delivered")
		return result, nil
	}

	sendsTotal.WithLabelValues(string(kind), outcomeFailed).Inc()
	if claimed {
		s.rollback(ctx, r.ID)
	}
	s.log(r.ID).Str("kind", string(kind)).Str("error", result.Error).Msg("message delivery failed")
	return result, &transport.TransportError{Provider: s.transport.Name(), Reason: result.Error}
}

// SendApproval implements the booking workflow's notifier.
func (s *Sender) SendApproval(ctx context.Context, r *model.Reservation) error {
	_, err := s.Send(ctx, r, KindApproval, false)
	return err
}

// SendSuggestion implements the booking workflow's notifier.
func (s *Sender) SendSuggestion(ctx context.Context, r *model.Reservation) error {
	_, err := s.Send(ctx, r, KindSuggestion, false)
	return err
}

// guard returns the rejection reason, or "" to proceed. Opt-out applies to
// every kind; the remaining guards only make sense for scheduled reminders.
func (s *Sender) guard(r *model.Reservation, client *model.Client, kind Kind) string {
	if client.SMSOptOut {
		return GuardOptOut
	}
	if kind != KindReminder {
		return ""
	}
	if !r.SendReminder {
		return GuardDisabled
	}
	if r.ReminderSentAt != nil {
		return GuardAlreadySent
	}
	if r.StartsAt.Before(s.now()) {
		return GuardPast
	}
	return ""
}

// attempt performs one transport call and appends its message log entry.
func (s *Sender) attempt(ctx context.Context, r *model.Reservation, client *model.Client, kind Kind, noLink bool) (transport.DeliveryResult, error) {
	body, err := s.composer.Compose(kind, r, client, TargetStart(kind, r), noLink)
	if err != nil {
		return transport.DeliveryResult{}, err
	}

	result := s.transport.Send(ctx, client.PhoneE164, body)

	entry := &model.MessageLogEntry{
		Provider:          s.transport.Name(),
		ToE164:            client.PhoneE164,
		MessageHash:       model.HashMessage(body),
		Status:            model.MessageStatusFailed,
		Error:             result.Error,
		ProviderMessageID: result.ProviderMessageID,
		ReservationID:     r.ID,
		ClientID:          client.ID,
		SentAt:            s.now(),
	}
	if result.Success {
		entry.Status = model.MessageStatusSuccess
	}
	if err := s.store.AppendMessageLog(ctx, entry); err != nil {
		return transport.DeliveryResult{}, err
	}
	return result, nil
}

func (s *Sender) rollback(ctx context.Context, id int64) {
	// Best effort; a stuck claim is caught later by the zombie diagnostic.
	if err := s.store.ReleaseReminderClaim(context.WithoutCancel(ctx), id); err != nil {
		s.log(id).Err(err).Msg("failed to release reminder claim")
	}
}

func (s *Sender) log(id int64) *zerolog.Event {
	if s.logger == nil {
		nop := zerolog.Nop()
		return nop.Info()
	}
	return s.logger.Info().Int64("reservation_id", id)
}
