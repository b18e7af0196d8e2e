package models

import "time"

type WindowQueueView struct {
	BranchID    string    `json:"branch_id"`
	WindowID    string    `json:"window_id"`
	Called      *Ticket   `json:"called"`
	Pending     *Ticket   `json:"pending"`
	OnGoing     []Ticket  `json:"on_going"`
	GeneratedAt time.Time `json:"generated_at"`
	// AutoRequeueAfterSeconds is the inactivity window counter clients wait
	// before calling requeue on the called ticket.
	AutoRequeueAfterSeconds int `json:"auto_requeue_after_seconds,omitempty"`
}
