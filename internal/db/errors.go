package db

import (
	"errors"
	"fmt"
)

// ErrStaleState is returned by conditional updates when the row's current
// state no longer matches the expected one and zero rows were written.
var ErrStaleState = errors.New("conditional update matched no rows")

// NotFoundError indicates a missing reservation or client.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
