package queue

import (
	"errors"
	"fmt"

	"qms/window-queue/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	// ErrWindowBusy rejects call-next while the window still has a CALLED ticket.
	ErrWindowBusy = fmt.Errorf("window already has a called ticket: %w", store.ErrInvalidState)
	// ErrConflict is returned once retries on concurrent updates are exhausted.
	ErrConflict = errors.New("queue is busy, retry the request")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports an action the ticket's current status does not allow.
type TransitionError struct {
	TicketID int64
	Action   string
	From     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s ticket %d in status %s", e.Action, e.TicketID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == store.ErrInvalidState
}
