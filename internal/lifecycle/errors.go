package lifecycle

import (
	"errors"
	"fmt"
)

// Error kinds returned by the manager. Concrete errors wrap one of these,
// so callers test with errors.Is.
var (
	ErrNotFound        = errors.New("location not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrTimerScheduling = errors.New("timer scheduling failure")
	ErrResolution      = errors.New("address resolution failure")
	ErrPrecondition    = errors.New("precondition failed")
)

// PreconditionError carries a message meant for the user.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func precondition(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}

func persistence(op, id string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrPersistence, op, id, err)
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "That parking location no longer exists."
	case errors.Is(err, ErrPersistence):
		return "The change could not be saved. Please try again."
	}
	return err.Error()
}
