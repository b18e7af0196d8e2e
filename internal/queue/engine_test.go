package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/window-queue/internal/live"
	"qms/window-queue/internal/models"
	"qms/window-queue/internal/store"
	"qms/window-queue/internal/store/memory"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []live.Change
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, change live.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var events []string
	for _, change := range p.changes {
		events = append(events, change.Event)
	}
	return events
}

func newTestStore() *memory.Store {
	st := memory.NewStore()
	st.Load(store.Seed{
		Branches: []models.Branch{
			{BranchID: "b1", Name: "Main"},
			{BranchID: "b2", Name: "Closed", Visibility: models.VisibilityDeleted},
		},
		Windows: []models.ServiceWindow{
			{WindowID: "w1", BranchID: "b1", Label: "Payment", Number: 1, Active: true},
			{WindowID: "w2", BranchID: "b1", Label: "", Number: 2, Active: true},
			{WindowID: "w3", BranchID: "b1", Label: "Retired", Number: 3, Visibility: models.VisibilityDeleted},
			{WindowID: "w4", BranchID: "b2", Label: "Other", Number: 1, Active: true},
		},
		Categories: []models.Category{
			{CategoryID: "c1", Name: "Regular", Class: models.CategoryStandard},
			{CategoryID: "c2", Name: "Legacy", Visibility: models.VisibilityDeleted},
		},
	})
	return st
}

func newTestEngine(st store.TicketStore, options Options) *Engine {
	if options.Now == nil {
		options.Now = newStepClock().Now
	}
	return NewEngine(st, options)
}

func issue(t *testing.T, engine *Engine, windowID, name string) models.Ticket {
	t.Helper()
	ticket, err := engine.IssueTicket(context.Background(), IssueInput{BranchID: "b1", WindowID: windowID, CategoryID: "c1", CustomerName: name})
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	return ticket
}

func numbers(tickets []models.Ticket) []string {
	var out []string
	for _, ticket := range tickets {
		out = append(out, ticket.TicketNumber)
	}
	return out
}

func TestIssueTicketsAreNumberedInOrder(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})

	var got []string
	for _, name := range []string{"Ana", "Ben", "Cy"} {
		ticket := issue(t, engine, "w1", name)
		if ticket.Status != models.StatusQueued || ticket.RequeueAttempts != 0 {
			t.Fatalf("unexpected new ticket: %+v", ticket)
		}
		got = append(got, ticket.TicketNumber)
	}
	if diff := cmp.Diff([]string{"P-001", "P-002", "P-003"}, got); diff != "" {
		t.Fatalf("numbers mismatch (-want +got):\n%s", diff)
	}

	unlabeled := issue(t, engine, "w2", "Dee")
	if unlabeled.TicketNumber != "W2-001" {
		t.Fatalf("expected W2-001, got %s", unlabeled.TicketNumber)
	}
}

func TestIssueTicketValidation(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		input   IssueInput
		wantErr error
		field   string
	}{
		{"missing customer", IssueInput{BranchID: "b1", WindowID: "w1", CategoryID: "c1", CustomerName: "  "}, ErrValidation, "customer_name"},
		{"missing window", IssueInput{BranchID: "b1", CategoryID: "c1", CustomerName: "Ana"}, ErrValidation, "window_id"},
		{"unknown branch", IssueInput{BranchID: "nope", WindowID: "w1", CategoryID: "c1", CustomerName: "Ana"}, store.ErrBranchNotFound, ""},
		{"deleted branch", IssueInput{BranchID: "b2", WindowID: "w4", CategoryID: "c1", CustomerName: "Ana"}, store.ErrBranchNotFound, ""},
		{"unknown window", IssueInput{BranchID: "b1", WindowID: "nope", CategoryID: "c1", CustomerName: "Ana"}, store.ErrWindowNotFound, ""},
		{"deleted window", IssueInput{BranchID: "b1", WindowID: "w3", CategoryID: "c1", CustomerName: "Ana"}, store.ErrWindowNotFound, ""},
		{"window of another branch", IssueInput{BranchID: "b1", WindowID: "w4", CategoryID: "c1", CustomerName: "Ana"}, store.ErrWindowNotFound, ""},
		{"unknown category", IssueInput{BranchID: "b1", WindowID: "w1", CategoryID: "nope", CustomerName: "Ana"}, store.ErrCategoryNotFound, ""},
		{"deleted category", IssueInput{BranchID: "b1", WindowID: "w1", CategoryID: "c2", CustomerName: "Ana"}, store.ErrCategoryNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.IssueTicket(ctx, tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.field != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) || verr.Field != tc.field {
					t.Fatalf("expected validation error on %s, got %v", tc.field, err)
				}
			}
		})
	}

	view, err := engine.GetWindowQueueView(ctx, "b1", "w1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Pending != nil {
		t.Fatalf("rejected issues must not create tickets: %+v", view)
	}
}

func TestConcurrentIssueProducesUniqueGaplessNumbers(t *testing.T) {
	st := newTestStore()
	engine := newTestEngine(st, Options{})

	const workers = 50
	var wg sync.WaitGroup
	results := make(chan models.Ticket, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ticket, err := engine.IssueTicket(context.Background(), IssueInput{BranchID: "b1", WindowID: "w1", CategoryID: "c1", CustomerName: fmt.Sprintf("c%d", n)})
			if err != nil {
				errs <- err
				return
			}
			results <- ticket
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("issue ticket: %v", err)
	}

	var got []string
	for ticket := range results {
		got = append(got, ticket.TicketNumber)
	}
	sort.Strings(got)
	var want []string
	for i := 1; i <= workers; i++ {
		want = append(want, fmt.Sprintf("P-%03d", i))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("numbers mismatch (-want +got):\n%s", diff)
	}

	window, err := st.GetWindow(context.Background(), "w1")
	if err != nil {
		t.Fatalf("get window: %v", err)
	}
	if window.LastSequence != workers {
		t.Fatalf("expected counter %d, got %d", workers, window.LastSequence)
	}
}

func TestCallNextPartitionsView(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	p1 := issue(t, engine, "w1", "Ana")
	issue(t, engine, "w1", "Ben")
	issue(t, engine, "w1", "Cy")

	called, found, err := engine.CallNext(ctx, "b1", "w1")
	if err != nil || !found {
		t.Fatalf("call next: found=%v err=%v", found, err)
	}
	if called.TicketID != p1.TicketID || called.Status != models.StatusCalled || called.CalledAt == nil {
		t.Fatalf("unexpected called ticket: %+v", called)
	}

	view, err := engine.GetWindowQueueView(ctx, "b1", "w1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Called == nil || view.Called.TicketNumber != "P-001" {
		t.Fatalf("expected P-001 called, got %+v", view.Called)
	}
	if view.Pending == nil || view.Pending.TicketNumber != "P-002" {
		t.Fatalf("expected P-002 pending, got %+v", view.Pending)
	}
	if diff := cmp.Diff([]string{"P-003"}, numbers(view.OnGoing)); diff != "" {
		t.Fatalf("on going mismatch (-want +got):\n%s", diff)
	}
	if view.AutoRequeueAfterSeconds != 15 {
		t.Fatalf("expected default auto requeue of 15s, got %d", view.AutoRequeueAfterSeconds)
	}
}

func TestCallNextEmptyWindow(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ticket, found, err := engine.CallNext(context.Background(), "b1", "w1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found || ticket.TicketID != 0 {
		t.Fatalf("expected nobody waiting, got %+v", ticket)
	}
}

func TestCallNextRejectsBusyWindow(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	issue(t, engine, "w1", "Ana")
	issue(t, engine, "w1", "Ben")

	if _, _, err := engine.CallNext(ctx, "b1", "w1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, _, err := engine.CallNext(ctx, "b1", "w1")
	if !errors.Is(err, ErrWindowBusy) || !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected busy window, got %v", err)
	}
}

func TestConcurrentCallNextKeepsSingleCalled(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	for i := 0; i < 5; i++ {
		issue(t, engine, "w1", fmt.Sprintf("c%d", i))
	}

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var called int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := engine.CallNext(context.Background(), "b1", "w1")
			if err != nil && !errors.Is(err, ErrWindowBusy) {
				t.Errorf("call next: %v", err)
				return
			}
			if found {
				mu.Lock()
				called++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if called != 1 {
		t.Fatalf("expected exactly one call to succeed, got %d", called)
	}

	view, err := engine.GetWindowQueueView(context.Background(), "b1", "w1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Called == nil || len(view.OnGoing) != 3 {
		t.Fatalf("unexpected view after concurrent calls: %+v", view)
	}
}

func TestFIFOTieBreakByID(t *testing.T) {
	frozen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	engine := newTestEngine(newTestStore(), Options{Now: func() time.Time { return frozen }})
	first := issue(t, engine, "w1", "Ana")
	second := issue(t, engine, "w1", "Ben")
	third := issue(t, engine, "w1", "Cy")

	for i := 0; i < 3; i++ {
		view, err := engine.GetWindowQueueView(context.Background(), "b1", "w1")
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if view.Pending == nil || view.Pending.TicketID != first.TicketID {
			t.Fatalf("expected lowest id pending, got %+v", view.Pending)
		}
		got := []int64{view.OnGoing[0].TicketID, view.OnGoing[1].TicketID}
		if diff := cmp.Diff([]int64{second.TicketID, third.TicketID}, got); diff != "" {
			t.Fatalf("on going order mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestRequeueThreeTimesCancels(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	issue(t, engine, "w1", "Ana")
	called, _, err := engine.CallNext(ctx, "b1", "w1")
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	first, err := engine.Requeue(ctx, called.TicketID, "staff-1")
	if err != nil {
		t.Fatalf("first requeue: %v", err)
	}
	if first.Status != models.StatusQueued || first.RequeueAttempts != 1 || first.CalledAt != nil {
		t.Fatalf("unexpected first requeue: %+v", first)
	}
	second, err := engine.Requeue(ctx, called.TicketID, "staff-1")
	if err != nil {
		t.Fatalf("second requeue: %v", err)
	}
	if second.Status != models.StatusQueued || second.RequeueAttempts != 2 {
		t.Fatalf("unexpected second requeue: %+v", second)
	}
	third, err := engine.Requeue(ctx, called.TicketID, "staff-1")
	if err != nil {
		t.Fatalf("third requeue: %v", err)
	}
	if third.Status != models.StatusCancelled || third.RequeueAttempts != 3 {
		t.Fatalf("expected cancelled after 3 attempts, got %+v", third)
	}
	if third.CancelledBy == nil || *third.CancelledBy != "staff-1" || third.CancelledAt == nil {
		t.Fatalf("expected cancellation details, got %+v", third)
	}
	if third.TicketNumber != called.TicketNumber {
		t.Fatalf("ticket number changed from %s to %s", called.TicketNumber, third.TicketNumber)
	}

	if _, err := engine.Requeue(ctx, called.TicketID, ""); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on cancelled ticket, got %v", err)
	}
}

func TestRequeueKeepsAttemptsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name         string
		resetOnCall  bool
		wantStatus   string
		wantAttempts int
	}{
		{"attempts carry over", false, models.StatusCancelled, 3},
		{"reset on call", true, models.StatusQueued, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(newTestStore(), Options{ResetAttemptsOnCall: tc.resetOnCall})
			issue(t, engine, "w1", "Ana")
			var last models.Ticket
			for i := 0; i < 3; i++ {
				called, found, err := engine.CallNext(ctx, "b1", "w1")
				if err != nil || !found {
					t.Fatalf("call %d: found=%v err=%v", i, found, err)
				}
				last, err = engine.Requeue(ctx, called.TicketID, "")
				if err != nil {
					t.Fatalf("requeue %d: %v", i, err)
				}
			}
			if last.Status != tc.wantStatus || last.RequeueAttempts != tc.wantAttempts {
				t.Fatalf("expected %s/%d, got %s/%d", tc.wantStatus, tc.wantAttempts, last.Status, last.RequeueAttempts)
			}
		})
	}
}

func TestRequeuedTicketKeepsQueuePosition(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	first := issue(t, engine, "w1", "Ana")
	issue(t, engine, "w1", "Ben")

	called, _, _ := engine.CallNext(ctx, "b1", "w1")
	if _, err := engine.Requeue(ctx, called.TicketID, ""); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	view, err := engine.GetWindowQueueView(ctx, "b1", "w1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Called != nil || view.Pending == nil || view.Pending.TicketID != first.TicketID {
		t.Fatalf("expected requeued ticket back at the front, got %+v", view)
	}
}

func TestMarkServedRequiresCalled(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	queued := issue(t, engine, "w1", "Ana")

	_, err := engine.MarkServed(ctx, queued.TicketID)
	var terr *TransitionError
	if !errors.As(err, &terr) || !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if terr.From != models.StatusQueued || terr.Action != store.ActionServe {
		t.Fatalf("unexpected transition error: %+v", terr)
	}
	unchanged, err := engine.GetTicket(ctx, queued.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if diff := cmp.Diff(queued, unchanged); diff != "" {
		t.Fatalf("ticket changed after rejected serve (-want +got):\n%s", diff)
	}
}

func TestServedTicketIsTerminal(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	issue(t, engine, "w1", "Ana")
	called, _, _ := engine.CallNext(ctx, "b1", "w1")

	confirmed, err := engine.ConfirmCalled(ctx, called.TicketID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.CalledAt.After(*called.CalledAt) {
		t.Fatalf("expected called-at refreshed, got %v then %v", called.CalledAt, confirmed.CalledAt)
	}
	served, err := engine.MarkServed(ctx, called.TicketID)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != models.StatusServed || served.ServedAt == nil {
		t.Fatalf("unexpected served ticket: %+v", served)
	}

	actions := map[string]func() error{
		"serve":   func() error { _, err := engine.MarkServed(ctx, called.TicketID); return err },
		"confirm": func() error { _, err := engine.ConfirmCalled(ctx, called.TicketID); return err },
		"requeue": func() error { _, err := engine.Requeue(ctx, called.TicketID, ""); return err },
	}
	for name, action := range actions {
		if err := action(); !errors.Is(err, store.ErrInvalidState) {
			t.Fatalf("%s on served ticket: expected invalid state, got %v", name, err)
		}
	}

	history, err := engine.TicketHistory(ctx, called.TicketID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var types []string
	for _, event := range history {
		types = append(types, event.Type)
	}
	want := []string{store.EventIssued, store.EventCalled, store.EventConfirmed, store.EventServed}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestTicketOperationsNotFound(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	if _, err := engine.MarkServed(ctx, 999); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ticket not found, got %v", err)
	}
	if _, err := engine.Requeue(ctx, 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := engine.TicketHistory(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := engine.GetWindowQueueView(ctx, "b1", "w4"); !errors.Is(err, store.ErrWindowNotFound) {
		t.Fatalf("expected window not found for other branch, got %v", err)
	}
}

func TestGetBranchQueueView(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{})
	ctx := context.Background()
	issue(t, engine, "w1", "Ana")
	issue(t, engine, "w2", "Ben")
	issue(t, engine, "w2", "Cy")

	views, err := engine.GetBranchQueueView(ctx, "b1")
	if err != nil {
		t.Fatalf("branch view: %v", err)
	}
	keys := make([]string, 0, len(views))
	for key := range views {
		keys = append(keys, key)
	}
	if diff := cmp.Diff([]string{"w1", "w2"}, keys, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("windows mismatch (-want +got):\n%s", diff)
	}
	if views["w2"].Pending == nil || views["w2"].Pending.TicketNumber != "W2-001" || len(views["w2"].OnGoing) != 1 {
		t.Fatalf("unexpected w2 view: %+v", views["w2"])
	}

	if _, err := engine.GetBranchQueueView(ctx, "b2"); !errors.Is(err, store.ErrBranchNotFound) {
		t.Fatalf("expected deleted branch to be not found, got %v", err)
	}
}

func TestSubscribeWindowReceivesSnapshots(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	engine := newTestEngine(newTestStore(), Options{Publishers: []Publisher{publisher}})
	ctx := context.Background()
	issue(t, engine, "w1", "Ana")

	sub, err := engine.SubscribeWindow(ctx, "w1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	initial := <-sub.C()
	if initial.Pending == nil || initial.Pending.TicketNumber != "P-001" {
		t.Fatalf("expected initial snapshot with P-001, got %+v", initial)
	}

	issue(t, engine, "w1", "Ben")
	if _, _, err := engine.CallNext(ctx, "b1", "w1"); err != nil {
		t.Fatalf("call next: %v", err)
	}
	latest := <-sub.C()
	if latest.Called == nil || latest.Called.TicketNumber != "P-001" || latest.Pending == nil || latest.Pending.TicketNumber != "P-002" {
		t.Fatalf("expected latest snapshot after call, got %+v", latest)
	}

	want := []string{store.EventIssued, store.EventIssued, store.EventCalled}
	if diff := cmp.Diff(want, publisher.events()); diff != "" {
		t.Fatalf("published events mismatch (-want +got):\n%s", diff)
	}

	if _, err := engine.SubscribeWindow(ctx, "w3"); !errors.Is(err, store.ErrWindowNotFound) {
		t.Fatalf("expected deleted window to be rejected, got %v", err)
	}
}

type conflictStore struct {
	store.TicketStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictStore) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	if fail {
		return models.Ticket{}, store.ErrConcurrencyConflict
	}
	return s.TicketStore.TransitionTicket(ctx, input)
}

func TestRetriesConcurrentConflicts(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		conflicts int
		wantErr   error
		wantCalls int
	}{
		{"recovers within retries", 3, 2, nil, 3},
		{"gives up after retries", 3, 10, ErrConflict, 4},
		{"zero disables retries", 0, 1, ErrConflict, 1},
		{"negative treated as zero", -1, 1, ErrConflict, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := &conflictStore{TicketStore: newTestStore(), conflicts: tc.conflicts}
			engine := newTestEngine(st, Options{ConflictRetries: tc.retries})
			issue(t, engine, "w1", "Ana")

			_, _, err := engine.CallNext(context.Background(), "b1", "w1")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if st.calls != tc.wantCalls {
				t.Fatalf("expected %d store attempts, got %d", tc.wantCalls, st.calls)
			}
		})
	}
}

type blockingLocker struct{}

func (blockingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	<-ctx.Done()
	return nil, fmt.Errorf("held elsewhere: %w", ctx.Err())
}

func TestLockTimeoutIsBounded(t *testing.T) {
	engine := newTestEngine(newTestStore(), Options{Locker: blockingLocker{}, LockTimeout: 10 * time.Millisecond})
	start := time.Now()
	_, err := engine.IssueTicket(context.Background(), IssueInput{BranchID: "b1", WindowID: "w1", CategoryID: "c1", CustomerName: "Ana"})
	if err == nil {
		t.Fatalf("expected error when the window lock is never released")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("lock wait was not bounded")
	}
}
