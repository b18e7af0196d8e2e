package queue

import (
	"sort"
	"time"

	"qms/window-queue/internal/models"
)

// BuildWindowView partitions a window's open tickets into called, pending
// and on-going. Input order does not matter; closed tickets are ignored.
func BuildWindowView(branchID, windowID string, tickets []models.Ticket, generatedAt time.Time) models.WindowQueueView {
	view := models.WindowQueueView{
		BranchID:    branchID,
		WindowID:    windowID,
		OnGoing:     []models.Ticket{},
		GeneratedAt: generatedAt,
	}

	var queued []models.Ticket
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusCalled:
			if view.Called == nil || ticket.Before(*view.Called) {
				called := ticket
				view.Called = &called
			}
		case models.StatusQueued:
			queued = append(queued, ticket)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].Before(queued[j])
	})
	if len(queued) > 0 {
		pending := queued[0]
		view.Pending = &pending
		view.OnGoing = append(view.OnGoing, queued[1:]...)
	}
	return view
}
