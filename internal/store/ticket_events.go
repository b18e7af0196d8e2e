package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/window-queue/internal/models"
)

const (
	EventIssued    = "ticket.issued"
	EventCalled    = "ticket.called"
	EventConfirmed = "ticket.confirmed"
	EventServed    = "ticket.served"
	EventRequeued  = "ticket.requeued"
	EventCancelled = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  int64           `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash string, ticketID int64, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%d|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NewTicketEvent chains a new event for ticket onto prev, the ticket's last
// recorded event (nil for the first one).
func NewTicketEvent(prev *TicketEvent, eventType string, ticket models.Ticket, createdAt time.Time) (TicketEvent, error) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return TicketEvent{}, err
	}
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	// Postgres keeps microseconds; truncating keeps the hash reproducible.
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticket.TicketID, eventType, payload, createdAt, seq),
	}, nil
}

// VerifyTicketEvents checks sequence continuity and the hash chain of one
// ticket's events, ordered by TicketSeq.
func VerifyTicketEvents(events []TicketEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("%w: ticket %d expected seq %d, got %d", ErrBrokenEventChain, event.TicketID, i+1, event.TicketSeq)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("%w: ticket %d seq %d prev hash mismatch", ErrBrokenEventChain, event.TicketID, event.TicketSeq)
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("%w: ticket %d seq %d hash mismatch", ErrBrokenEventChain, event.TicketID, event.TicketSeq)
		}
		prevHash = event.Hash
	}
	return nil
}

// RehydrateTicket replays the payload snapshots and returns the last state.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var snapshot models.Ticket
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			return models.Ticket{}, err
		}
		ticket = snapshot
	}
	return ticket, nil
}
