package store

import (
	"context"
	"time"

	"qms/window-queue/internal/models"
)

type IssueInput struct {
	BranchID     string
	WindowID     string
	CategoryID   string
	CustomerName string
	QueuedAt     time.Time
}

// NumberFunc mints the ticket number for the sequence reserved on window.
// It runs inside the store's issue operation and must not fail.
type NumberFunc func(window models.ServiceWindow, seq int64) string

// TransitionInput describes a compare-and-set on a ticket row: the update
// applies only while the stored ticket still has FromStatus and
// FromAttempts, otherwise the store reports ErrConcurrencyConflict.
type TransitionInput struct {
	Next         models.Ticket
	FromStatus   string
	FromAttempts int
	EventType    string
	OccurredAt   time.Time
}

// Directory resolves the branch configuration records the queue depends on.
// Lookups return the record even when it is soft-deleted; callers check Live.
type Directory interface {
	GetBranch(ctx context.Context, branchID string) (models.Branch, error)
	GetWindow(ctx context.Context, windowID string) (models.ServiceWindow, error)
	GetCategory(ctx context.Context, categoryID string) (models.Category, error)
	ListWindows(ctx context.Context, branchID string) ([]models.ServiceWindow, error)
}

type TicketStore interface {
	Directory
	// IssueTicket reserves the next sequence on the window and persists a
	// QUEUED ticket numbered by mint, atomically.
	IssueTicket(ctx context.Context, input IssueInput, mint NumberFunc) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	// ListOpenTickets returns QUEUED and CALLED tickets of the window ordered
	// by queued-at, then ticket id.
	ListOpenTickets(ctx context.Context, branchID, windowID string) ([]models.Ticket, error)
	TransitionTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID int64) ([]TicketEvent, error)
}
