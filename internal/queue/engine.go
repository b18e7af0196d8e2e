// Package queue is the ticket lifecycle engine: issuing numbered tickets,
// moving them through call, confirm, serve and requeue, and projecting each
// window's open tickets into its live view.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qms/window-queue/internal/live"
	"qms/window-queue/internal/lock"
	"qms/window-queue/internal/models"
	"qms/window-queue/internal/store"
	"qms/window-queue/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxRequeueAttempts = 3
	defaultLockTimeout        = 5 * time.Second
	defaultAutoRequeueAfter   = 15 * time.Second
)

// Publisher receives every change after it is committed. Errors are logged,
// never returned to the caller that made the change.
type Publisher interface {
	Publish(ctx context.Context, change live.Change) error
}

type Options struct {
	MaxRequeueAttempts int
	// ConflictRetries is how many times a window operation is retried after
	// a concurrent update. Zero disables retries.
	ConflictRetries     int
	ResetAttemptsOnCall bool
	// AutoRequeueAfter is advertised in views; clients requeue a called
	// ticket after this much inactivity.
	AutoRequeueAfter time.Duration
	LockTimeout      time.Duration
	Locker           lock.Locker
	Hub              *live.Hub
	Publishers       []Publisher
	Logger           logger.Logger
	Now              func() time.Time
}

type IssueInput struct {
	BranchID     string
	WindowID     string
	CategoryID   string
	CustomerName string
}

type Engine struct {
	store       store.TicketStore
	locker      lock.Locker
	hub         *live.Hub
	publishers  []Publisher
	log         logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
	maxAttempts int
	retries     int
	resetOnCall bool
	autoRequeue time.Duration
	lockTimeout time.Duration
}

func NewEngine(st store.TicketStore, options Options) *Engine {
	if options.MaxRequeueAttempts <= 0 {
		options.MaxRequeueAttempts = defaultMaxRequeueAttempts
	}
	if options.ConflictRetries < 0 {
		options.ConflictRetries = 0
	}
	if options.AutoRequeueAfter <= 0 {
		options.AutoRequeueAfter = defaultAutoRequeueAfter
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = defaultLockTimeout
	}
	if options.Locker == nil {
		options.Locker = lock.NewLocal()
	}
	if options.Hub == nil {
		options.Hub = live.New()
	}
	if options.Logger == nil {
		options.Logger = logger.NewNop()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Engine{
		store:       st,
		locker:      options.Locker,
		hub:         options.Hub,
		publishers:  options.Publishers,
		log:         options.Logger,
		tracer:      otel.Tracer("qms/window-queue/queue"),
		now:         options.Now,
		maxAttempts: options.MaxRequeueAttempts,
		retries:     options.ConflictRetries,
		resetOnCall: options.ResetAttemptsOnCall,
		autoRequeue: options.AutoRequeueAfter,
		lockTimeout: options.LockTimeout,
	}
}

func (e *Engine) IssueTicket(ctx context.Context, input IssueInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.IssueTicket", trace.WithAttributes(
		attribute.String("branch.id", input.BranchID),
		attribute.String("window.id", input.WindowID),
	))
	defer func() { endSpan(span, err) }()

	input.BranchID = strings.TrimSpace(input.BranchID)
	input.WindowID = strings.TrimSpace(input.WindowID)
	input.CategoryID = strings.TrimSpace(input.CategoryID)
	input.CustomerName = strings.TrimSpace(input.CustomerName)
	if err := requireFields(
		"branch_id", input.BranchID,
		"window_id", input.WindowID,
		"category_id", input.CategoryID,
		"customer_name", input.CustomerName,
	); err != nil {
		return models.Ticket{}, err
	}

	if _, err := e.liveWindow(ctx, input.BranchID, input.WindowID); err != nil {
		return models.Ticket{}, err
	}
	category, err := e.store.GetCategory(ctx, input.CategoryID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !category.Live() {
		return models.Ticket{}, store.ErrCategoryNotFound
	}

	err = e.withWindow(ctx, input.WindowID, func(ctx context.Context) error {
		now := e.now()
		issued, err := e.store.IssueTicket(ctx, store.IssueInput{
			BranchID:     input.BranchID,
			WindowID:     input.WindowID,
			CategoryID:   input.CategoryID,
			CustomerName: input.CustomerName,
			QueuedAt:     now,
		}, func(window models.ServiceWindow, seq int64) string {
			return FormatTicketNumber(&window, seq, now)
		})
		if err != nil {
			return err
		}
		ticket = issued
		e.publish(ctx, store.EventIssued, issued)
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.log.Info("ticket issued", "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "window_id", ticket.WindowID)
	return ticket, nil
}

// CallNext moves the oldest QUEUED ticket of the window to CALLED. found is
// false when nobody is waiting.
func (e *Engine) CallNext(ctx context.Context, branchID, windowID string) (ticket models.Ticket, found bool, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.CallNext", trace.WithAttributes(
		attribute.String("branch.id", branchID),
		attribute.String("window.id", windowID),
	))
	defer func() { endSpan(span, err) }()

	branchID = strings.TrimSpace(branchID)
	windowID = strings.TrimSpace(windowID)
	if err := requireFields("branch_id", branchID, "window_id", windowID); err != nil {
		return models.Ticket{}, false, err
	}
	if _, err := e.liveWindow(ctx, branchID, windowID); err != nil {
		return models.Ticket{}, false, err
	}

	err = e.withWindow(ctx, windowID, func(ctx context.Context) error {
		found = false
		open, err := e.store.ListOpenTickets(ctx, branchID, windowID)
		if err != nil {
			return err
		}
		view := BuildWindowView(branchID, windowID, open, e.now())
		if view.Called != nil {
			return ErrWindowBusy
		}
		if view.Pending == nil {
			return nil
		}

		now := e.now()
		next := *view.Pending
		next.Status = models.StatusCalled
		next.CalledAt = &now
		if e.resetOnCall {
			next.RequeueAttempts = 0
		}
		updated, err := e.store.TransitionTicket(ctx, store.TransitionInput{
			Next:         next,
			FromStatus:   view.Pending.Status,
			FromAttempts: view.Pending.RequeueAttempts,
			EventType:    store.EventCalled,
			OccurredAt:   now,
		})
		if err != nil {
			return err
		}
		ticket = updated
		found = true
		e.publish(ctx, store.EventCalled, updated)
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		e.log.Info("ticket called", "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "window_id", windowID)
	}
	return ticket, found, nil
}

// ConfirmCalled refreshes called-at on a CALLED ticket, restarting the
// client's inactivity timer.
func (e *Engine) ConfirmCalled(ctx context.Context, ticketID int64) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionConfirm, func(ticket models.Ticket, now time.Time) (models.Ticket, string) {
		ticket.CalledAt = &now
		return ticket, store.EventConfirmed
	})
}

func (e *Engine) MarkServed(ctx context.Context, ticketID int64) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionServe, func(ticket models.Ticket, now time.Time) (models.Ticket, string) {
		ticket.Status = models.StatusServed
		ticket.ServedAt = &now
		return ticket, store.EventServed
	})
}

// Requeue returns a ticket to the queue, keeping its original position, and
// cancels it once the attempt limit is reached.
func (e *Engine) Requeue(ctx context.Context, ticketID int64, cancelledBy string) (models.Ticket, error) {
	cancelledBy = strings.TrimSpace(cancelledBy)
	return e.transition(ctx, ticketID, store.ActionRequeue, func(ticket models.Ticket, now time.Time) (models.Ticket, string) {
		ticket.RequeueAttempts++
		if ticket.RequeueAttempts >= e.maxAttempts {
			ticket.Status = models.StatusCancelled
			ticket.CancelledAt = &now
			if cancelledBy != "" {
				ticket.CancelledBy = &cancelledBy
			}
			return ticket, store.EventCancelled
		}
		ticket.Status = models.StatusQueued
		ticket.CalledAt = nil
		return ticket, store.EventRequeued
	})
}

func (e *Engine) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	if ticketID <= 0 {
		return models.Ticket{}, &ValidationError{Field: "ticket_id", Message: "must be positive"}
	}
	return e.store.GetTicket(ctx, ticketID)
}

// TicketHistory returns the ticket's event chain after verifying it.
func (e *Engine) TicketHistory(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	if ticketID <= 0 {
		return nil, &ValidationError{Field: "ticket_id", Message: "must be positive"}
	}
	events, err := e.store.ListTicketEvents(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		e.log.Error("ticket history verification failed", "ticket_id", ticketID, "error", err)
		return nil, err
	}
	return events, nil
}

func (e *Engine) GetWindowQueueView(ctx context.Context, branchID, windowID string) (view models.WindowQueueView, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.GetWindowQueueView", trace.WithAttributes(
		attribute.String("branch.id", branchID),
		attribute.String("window.id", windowID),
	))
	defer func() { endSpan(span, err) }()

	branchID = strings.TrimSpace(branchID)
	windowID = strings.TrimSpace(windowID)
	if err := requireFields("branch_id", branchID, "window_id", windowID); err != nil {
		return models.WindowQueueView{}, err
	}
	if _, err := e.liveWindow(ctx, branchID, windowID); err != nil {
		return models.WindowQueueView{}, err
	}
	return e.windowView(ctx, branchID, windowID)
}

// GetBranchQueueView returns the view of every live window of the branch,
// keyed by window id.
func (e *Engine) GetBranchQueueView(ctx context.Context, branchID string) (views map[string]models.WindowQueueView, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.GetBranchQueueView", trace.WithAttributes(
		attribute.String("branch.id", branchID),
	))
	defer func() { endSpan(span, err) }()

	branchID = strings.TrimSpace(branchID)
	if err := requireFields("branch_id", branchID); err != nil {
		return nil, err
	}
	branch, err := e.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if !branch.Live() {
		return nil, store.ErrBranchNotFound
	}
	windows, err := e.store.ListWindows(ctx, branchID)
	if err != nil {
		return nil, err
	}

	views = make(map[string]models.WindowQueueView, len(windows))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, window := range windows {
		if !window.Live() {
			continue
		}
		windowID := window.WindowID
		g.Go(func() error {
			view, err := e.windowView(gctx, branchID, windowID)
			if err != nil {
				return fmt.Errorf("window %s: %w", windowID, err)
			}
			mu.Lock()
			views[windowID] = view
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// SubscribeWindow streams the window's view. The current view is queued on
// the subscription before it is returned; the caller must Close it.
func (e *Engine) SubscribeWindow(ctx context.Context, windowID string) (*live.Subscription, error) {
	windowID = strings.TrimSpace(windowID)
	if err := requireFields("window_id", windowID); err != nil {
		return nil, err
	}
	window, err := e.store.GetWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if !window.Live() {
		return nil, store.ErrWindowNotFound
	}

	var sub *live.Subscription
	err = e.locked(ctx, windowID, func(ctx context.Context) error {
		view, err := e.windowView(ctx, window.BranchID, windowID)
		if err != nil {
			return err
		}
		sub = e.hub.Subscribe(windowID)
		sub.Offer(view)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("window subscribed", "window_id", windowID, "subscription_id", sub.ID)
	return sub, nil
}

func (e *Engine) transition(ctx context.Context, ticketID int64, action string, apply func(models.Ticket, time.Time) (models.Ticket, string)) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "queue."+action, trace.WithAttributes(
		attribute.Int64("ticket.id", ticketID),
	))
	defer func() { endSpan(span, err) }()

	if ticketID <= 0 {
		return models.Ticket{}, &ValidationError{Field: "ticket_id", Message: "must be positive"}
	}
	current, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}

	err = e.withWindow(ctx, current.WindowID, func(ctx context.Context) error {
		fresh, err := e.store.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition(action, fresh.Status) {
			return &TransitionError{TicketID: ticketID, Action: action, From: fresh.Status}
		}
		now := e.now()
		next, eventType := apply(fresh, now)
		updated, err := e.store.TransitionTicket(ctx, store.TransitionInput{
			Next:         next,
			FromStatus:   fresh.Status,
			FromAttempts: fresh.RequeueAttempts,
			EventType:    eventType,
			OccurredAt:   now,
		})
		if err != nil {
			return err
		}
		ticket = updated
		e.publish(ctx, eventType, updated)
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.log.Info("ticket updated", "ticket_id", ticket.TicketID, "action", action, "status", ticket.Status, "requeue_attempts", ticket.RequeueAttempts)
	return ticket, nil
}

// withWindow runs fn under the window lock, retrying it from scratch when
// the store reports a concurrent update.
func (e *Engine) withWindow(ctx context.Context, windowID string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := e.locked(ctx, windowID, fn)
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			return err
		}
		if attempt >= e.retries {
			e.log.Warn("giving up after concurrent updates", "window_id", windowID, "attempts", attempt+1, "error", err)
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		e.log.Debug("retrying after concurrent update", "window_id", windowID, "attempt", attempt+1)
	}
}

func (e *Engine) locked(ctx context.Context, windowID string, fn func(context.Context) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	release, err := e.locker.Acquire(acquireCtx, "window:"+windowID)
	cancel()
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	defer release()
	return fn(ctx)
}

func (e *Engine) liveWindow(ctx context.Context, branchID, windowID string) (models.ServiceWindow, error) {
	branch, err := e.store.GetBranch(ctx, branchID)
	if err != nil {
		return models.ServiceWindow{}, err
	}
	if !branch.Live() {
		return models.ServiceWindow{}, store.ErrBranchNotFound
	}
	window, err := e.store.GetWindow(ctx, windowID)
	if err != nil {
		return models.ServiceWindow{}, err
	}
	if !window.Live() || window.BranchID != branchID {
		return models.ServiceWindow{}, store.ErrWindowNotFound
	}
	return window, nil
}

func (e *Engine) windowView(ctx context.Context, branchID, windowID string) (models.WindowQueueView, error) {
	open, err := e.store.ListOpenTickets(ctx, branchID, windowID)
	if err != nil {
		return models.WindowQueueView{}, err
	}
	view := BuildWindowView(branchID, windowID, open, e.now())
	view.AutoRequeueAfterSeconds = int(e.autoRequeue / time.Second)
	return view, nil
}

// publish runs inside the window lock so subscribers see views in commit
// order.
func (e *Engine) publish(ctx context.Context, eventType string, ticket models.Ticket) {
	view, err := e.windowView(ctx, ticket.BranchID, ticket.WindowID)
	if err != nil {
		e.log.Error("compute view for publish failed", "window_id", ticket.WindowID, "error", err)
		return
	}
	change := live.Change{Event: eventType, Ticket: ticket, View: view}
	if err := e.hub.Publish(ctx, change); err != nil {
		e.log.Warn("hub publish failed", "window_id", ticket.WindowID, "error", err)
	}
	for _, publisher := range e.publishers {
		if err := publisher.Publish(ctx, change); err != nil {
			e.log.Warn("publish change failed", "window_id", ticket.WindowID, "event", eventType, "error", err)
		}
	}
}

// requireFields takes name, value pairs and reports the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return &ValidationError{Field: pairs[i], Message: "is required"}
		}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
