package models

import "time"

type Ticket struct {
	TicketID        int64      `json:"ticket_id"`
	TicketNumber    string     `json:"ticket_number"`
	CustomerName    string     `json:"customer_name"`
	CategoryID      string     `json:"category_id"`
	BranchID        string     `json:"branch_id"`
	WindowID        string     `json:"window_id,omitempty"`
	Status          string     `json:"status"`
	RequeueAttempts int        `json:"requeue_attempts"`
	QueuedAt        time.Time  `json:"queued_at"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	ServedAt        *time.Time `json:"served_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy     *string    `json:"cancelled_by,omitempty"`
}

const (
	StatusQueued    = "queued"
	StatusCalled    = "called"
	StatusServed    = "served"
	StatusCancelled = "cancelled"
)

// Open reports whether the ticket still takes part in its window's queue.
func (t Ticket) Open() bool {
	return t.Status == StatusQueued || t.Status == StatusCalled
}

// Before orders tickets FIFO by queued-at, falling back to the lower id
// when two tickets share a timestamp.
func (t Ticket) Before(other Ticket) bool {
	if !t.QueuedAt.Equal(other.QueuedAt) {
		return t.QueuedAt.Before(other.QueuedAt)
	}
	return t.TicketID < other.TicketID
}
