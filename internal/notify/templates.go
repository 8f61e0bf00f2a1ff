package notify

import (
	"fmt"
	"strings"
	"time"

	"terminarz/internal/model"
)

// Kind names a message template. The set is closed; each kind maps to a pure
// composition function plus an optional link-free variant used for the
// link-rejection retry.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindApproval   Kind = "approval"
	KindSuggestion Kind = "suggestion"
)

const (
	reminderTemplate = "Dzień dobry,\n\nPrzypominamy o zaplanowanej wizycie:\n📅 %s o %s\n\nSzczegóły wizyty oraz możliwość zmiany terminu:\n%s\n\nNa stronie możesz również wyłączyć dalsze powiadomienia SMS."
	reminderNoLink   = "Dzień dobry,\n\nPrzypominamy o zaplanowanej wizycie:\n📅 %s o %s\n\nProsimy o obecność."

	approvalTemplate = "Dzień dobry,\nTwoja prośba o zmianę terminu została zaakceptowana.\nNowy termin wizyty: %s o %s\nSzczegóły: %s"
	approvalNoLink   = "Dzień dobry,\nTwoja prośba o zmianę terminu została zaakceptowana.\nNowy termin wizyty: %s o %s"

	suggestionTemplate = "Dzień dobry,\nTwoja prośba o zmianę terminu nie została zaakceptowana.\nProponowany termin: %s o %s\nSzczegóły i akceptacja/odrzucenie: %s"
	suggestionNoLink   = "Dzień dobry,\nTwoja prośba o zmianę terminu nie została zaakceptowana.\nProponowany termin: %s o %s\nProsimy o kontakt w celu ustalenia szczegółów."
)

// Composer renders message bodies in the business timezone, with the client's
// self-service reference link.
type Composer struct {
	baseURL  string
	location *time.Location
}

// NewComposer creates a composer. baseURL is the public site root the client
// link hangs off; location is the business timezone.
func NewComposer(baseURL string, location *time.Location) *Composer {
	if location == nil {
		location = time.UTC
	}
	return &Composer{baseURL: strings.TrimRight(baseURL, "/"), location: location}
}

// Compose renders the template for kind. startsAt overrides the reservation's
// own start; pass the suggested time when notifying about a proposal that has
// not been adopted yet. noLink selects the link-free variant.
func (c *Composer) Compose(kind Kind, r *model.Reservation, client *model.Client, startsAt time.Time, noLink bool) (string, error) {
	local := startsAt.In(c.location)
	date := polishDate(local)
	clock := local.Format("15:04")
	link := c.baseURL + "/c/" + client.PublicUID

	switch kind {
	case KindReminder:
		if noLink {
			return fmt.Sprintf(reminderNoLink, date, clock), nil
		}
		return fmt.Sprintf(reminderTemplate, date, clock, link), nil
	case KindApproval:
		if noLink {
			return fmt.Sprintf(approvalNoLink, date, clock), nil
		}
		return fmt.Sprintf(approvalTemplate, date, clock, link), nil
	case KindSuggestion:
		if noLink {
			return fmt.Sprintf(suggestionNoLink, date, clock), nil
		}
		return fmt.Sprintf(suggestionTemplate, date, clock, link), nil
	default:
		return "", fmt.Errorf("unknown template kind %q", kind)
	}
}

// HasNoLinkVariant reports whether a link-free variant is registered for kind.
// All current kinds carry one; the check keeps the retry path honest if a
// future kind does not.
func (c *Composer) HasNoLinkVariant(kind Kind) bool {
	switch kind {
	case KindReminder, KindApproval, KindSuggestion:
		return true
	}
	return false
}

// TargetStart returns the time a message of the given kind refers to: the
// suggested time for suggestion messages, the reservation's own start
// otherwise.
func TargetStart(kind Kind, r *model.Reservation) time.Time {
	if kind == KindSuggestion && r.SuggestedStartsAt != nil {
		return *r.SuggestedStartsAt
	}
	return r.StartsAt
}

// polishMonthsGenitive holds month names in the genitive case used in dates.
var polishMonthsGenitive = [...]string{
	"stycznia", "lutego", "marca", "kwietnia", "maja", "czerwca",
	"lipca", "sierpnia", "września", "października", "listopada", "grudnia",
}

func polishDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), polishMonthsGenitive[t.Month()-1], t.Year())
}
