package notify

import (
	"errors"
	"fmt"
)

// Guard reasons reported by GuardRejectedError.
const (
	GuardDisabled    = "reminder disabled"
	GuardAlreadySent = "reminder already sent"
	GuardOptOut      = "client opted out"
	GuardPast        = "appointment already started"
)

// GuardRejectedError reports that a pre-send guard stopped the message before
// any transport attempt. Nothing is logged to the message log in this case.
type GuardRejectedError struct {
	ReservationID int64
	Reason        string
}

func (e *GuardRejectedError) Error() string {
	return fmt.Sprintf("reservation %d: send rejected: %s", e.ReservationID, e.Reason)
}

// IsGuardRejected reports whether err is a guard rejection and returns it.
func IsGuardRejected(err error) (*GuardRejectedError, bool) {
	var ge *GuardRejectedError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// LockContentionError reports that the conditional reminder claim matched no
// rows: another worker marked the reservation first.
type LockContentionError struct {
	ReservationID int64
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("reservation %d: reminder already claimed by another worker", e.ReservationID)
}

// IsLockContention reports whether err is a lost claim race.
func IsLockContention(err error) bool {
	var le *LockContentionError
	return errors.As(err, &le)
}
