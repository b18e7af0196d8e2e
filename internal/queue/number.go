package queue

import (
	"fmt"
	"time"

	"qms/window-queue/internal/models"
)

const ticketNumberPad = 3

// FormatTicketNumber renders {PREFIX}-{SEQ:03d} with the window's TicketPrefix.
// Without a window the number is built from the date and now's nanoseconds.
func FormatTicketNumber(window *models.ServiceWindow, seq int64, now time.Time) string {
	if window == nil {
		return fmt.Sprintf("T-%s-%d", now.UTC().Format("20060102"), now.UnixNano())
	}
	return fmt.Sprintf("%s-%0*d", window.TicketPrefix(), ticketNumberPad, seq)
}
