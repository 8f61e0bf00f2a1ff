package workflow

import (
	"errors"
	"fmt"
)

// ErrNoSuggestion is returned when a client tries to accept a suggestion that
// does not exist.
var ErrNoSuggestion = errors.New("no suggested time to accept")

// ConflictingStateError indicates an operation was invoked against a
// reservation whose lifecycle state does not permit it. The caller decides
// whether to refetch and retry.
type ConflictingStateError struct {
	ReservationID int64
	Operation     string
	Expected      string
	Actual        string
}

func (e *ConflictingStateError) Error() string {
	return fmt.Sprintf("reservation %d: %s expects state %q, found %q",
		e.ReservationID, e.Operation, e.Expected, e.Actual)
}

// IsConflictingState reports whether err wraps a ConflictingStateError.
func IsConflictingState(err error) bool {
	var cs *ConflictingStateError
	return errors.As(err, &cs)
}
