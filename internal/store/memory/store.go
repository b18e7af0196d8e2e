// Package memory is an in-process TicketStore. All reads run under a read
// lock, so a query never observes a ticket mid-transition.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"qms/window-queue/internal/models"
	"qms/window-queue/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	branches   map[string]models.Branch
	windows    map[string]models.ServiceWindow
	categories map[string]models.Category
	tickets    map[int64]models.Ticket
	byWindow   map[string][]int64
	events     map[int64][]store.TicketEvent
	lastID     int64
}

func NewStore() *Store {
	return &Store{
		branches:   make(map[string]models.Branch),
		windows:    make(map[string]models.ServiceWindow),
		categories: make(map[string]models.Category),
		tickets:    make(map[int64]models.Ticket),
		byWindow:   make(map[string][]int64),
		events:     make(map[int64][]store.TicketEvent),
	}
}

// Load upserts directory records. Existing window counters are replaced by
// the seeded value. Nothing is applied when two live windows of a branch
// would share a ticket prefix.
func (s *Store) Load(seed store.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := maps.Clone(s.windows)
	for _, window := range seed.Windows {
		merged[window.WindowID] = window
	}
	if err := store.CheckWindowPrefixes(slices.Collect(maps.Values(merged))); err != nil {
		return err
	}
	for _, branch := range seed.Branches {
		s.branches[branch.BranchID] = branch
	}
	for _, window := range seed.Windows {
		s.windows[window.WindowID] = window
	}
	for _, category := range seed.Categories {
		s.categories[category.CategoryID] = category
	}
	return nil
}

func (s *Store) GetBranch(ctx context.Context, branchID string) (models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return models.Branch{}, store.ErrBranchNotFound
	}
	return branch, nil
}

func (s *Store) GetWindow(ctx context.Context, windowID string) (models.ServiceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window, ok := s.windows[windowID]
	if !ok {
		return models.ServiceWindow{}, store.ErrWindowNotFound
	}
	return window, nil
}

func (s *Store) GetCategory(ctx context.Context, categoryID string) (models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.categories[categoryID]
	if !ok {
		return models.Category{}, store.ErrCategoryNotFound
	}
	return category, nil
}

func (s *Store) ListWindows(ctx context.Context, branchID string) ([]models.ServiceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var windows []models.ServiceWindow
	for _, window := range s.windows {
		if window.BranchID == branchID {
			windows = append(windows, window)
		}
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Number != windows[j].Number {
			return windows[i].Number < windows[j].Number
		}
		return windows[i].WindowID < windows[j].WindowID
	})
	return windows, nil
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueInput, mint store.NumberFunc) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	window, ok := s.windows[input.WindowID]
	if !ok || !window.Live() || window.BranchID != input.BranchID {
		return models.Ticket{}, store.ErrWindowNotFound
	}

	seq := window.LastSequence + 1
	ticket := models.Ticket{
		TicketID:     s.lastID + 1,
		TicketNumber: mint(window, seq),
		CustomerName: input.CustomerName,
		CategoryID:   input.CategoryID,
		BranchID:     input.BranchID,
		WindowID:     input.WindowID,
		Status:       models.StatusQueued,
		QueuedAt:     input.QueuedAt,
	}
	for _, id := range s.byWindow[window.WindowID] {
		if s.tickets[id].TicketNumber == ticket.TicketNumber {
			return models.Ticket{}, fmt.Errorf("%w: ticket number %s already issued", store.ErrConcurrencyConflict, ticket.TicketNumber)
		}
	}
	event, err := store.NewTicketEvent(nil, store.EventIssued, ticket, input.QueuedAt)
	if err != nil {
		return models.Ticket{}, err
	}

	window.LastSequence = seq
	s.windows[window.WindowID] = window
	s.lastID = ticket.TicketID
	s.tickets[ticket.TicketID] = cloneTicket(ticket)
	s.byWindow[window.WindowID] = append(s.byWindow[window.WindowID], ticket.TicketID)
	s.events[ticket.TicketID] = []store.TicketEvent{event}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) ListOpenTickets(ctx context.Context, branchID, windowID string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tickets []models.Ticket
	for _, id := range s.byWindow[windowID] {
		ticket := s.tickets[id]
		if ticket.BranchID != branchID || !ticket.Open() {
			continue
		}
		tickets = append(tickets, cloneTicket(ticket))
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].Before(tickets[j])
	})
	return tickets, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tickets[input.Next.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if current.Status != input.FromStatus || current.RequeueAttempts != input.FromAttempts {
		return models.Ticket{}, fmt.Errorf("%w: ticket %d is %s/%d", store.ErrConcurrencyConflict, current.TicketID, current.Status, current.RequeueAttempts)
	}

	next := cloneTicket(input.Next)
	next.TicketNumber = current.TicketNumber
	next.CustomerName = current.CustomerName
	next.CategoryID = current.CategoryID
	next.BranchID = current.BranchID
	next.WindowID = current.WindowID
	next.QueuedAt = current.QueuedAt

	if next.Status == models.StatusCalled && current.Status != models.StatusCalled {
		for _, id := range s.byWindow[current.WindowID] {
			if id != current.TicketID && s.tickets[id].Status == models.StatusCalled {
				return models.Ticket{}, fmt.Errorf("%w: window %s already has ticket %d called", store.ErrConcurrencyConflict, current.WindowID, id)
			}
		}
	}

	history := s.events[current.TicketID]
	var prev *store.TicketEvent
	if len(history) > 0 {
		prev = &history[len(history)-1]
	}
	event, err := store.NewTicketEvent(prev, input.EventType, next, input.OccurredAt)
	if err != nil {
		return models.Ticket{}, err
	}

	s.tickets[next.TicketID] = next
	s.events[next.TicketID] = append(history, event)
	return cloneTicket(next), nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.events[ticketID]
	if !ok {
		return nil, store.ErrTicketNotFound
	}
	events := make([]store.TicketEvent, len(history))
	copy(events, history)
	return events, nil
}

func cloneTicket(ticket models.Ticket) models.Ticket {
	ticket.CalledAt = cloneTime(ticket.CalledAt)
	ticket.ServedAt = cloneTime(ticket.ServedAt)
	ticket.CancelledAt = cloneTime(ticket.CancelledAt)
	if ticket.CancelledBy != nil {
		by := *ticket.CancelledBy
		ticket.CancelledBy = &by
	}
	return ticket
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
