package store

import "qms/window-queue/internal/models"

const (
	ActionCallNext = "call_next"
	ActionConfirm  = "confirm"
	ActionServe    = "serve"
	ActionRequeue  = "requeue"
)

var transitionMap = map[string][]string{
	ActionCallNext: {models.StatusQueued},
	ActionConfirm:  {models.StatusCalled},
	ActionServe:    {models.StatusCalled},
	// Requeue from QUEUED covers recovery after a lost call (e.g. the counter
	// timed out twice without a call-next in between).
	ActionRequeue: {models.StatusCalled, models.StatusQueued},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
