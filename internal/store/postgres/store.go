package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/window-queue/internal/models"
	"qms/window-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, ticket_number, customer_name, category_id, branch_id, window_id, status,
	requeue_attempts, queued_at, called_at, served_at, cancelled_at, cancelled_by`

const windowColumns = `window_id, branch_id, label, number, active, last_sequence, visibility`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetBranch(ctx context.Context, branchID string) (models.Branch, error) {
	var branch models.Branch
	row := s.pool.QueryRow(ctx, `
		SELECT branch_id, name, visibility
		FROM branches
		WHERE branch_id = $1
	`, branchID)
	if err := row.Scan(&branch.BranchID, &branch.Name, &branch.Visibility); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Branch{}, store.ErrBranchNotFound
		}
		return models.Branch{}, err
	}
	return branch, nil
}

func (s *Store) GetWindow(ctx context.Context, windowID string) (models.ServiceWindow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+windowColumns+` FROM service_windows WHERE window_id = $1`, windowID)
	window, err := scanWindow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServiceWindow{}, store.ErrWindowNotFound
		}
		return models.ServiceWindow{}, err
	}
	return window, nil
}

func (s *Store) GetCategory(ctx context.Context, categoryID string) (models.Category, error) {
	var category models.Category
	row := s.pool.QueryRow(ctx, `
		SELECT category_id, name, class, visibility
		FROM categories
		WHERE category_id = $1
	`, categoryID)
	if err := row.Scan(&category.CategoryID, &category.Name, &category.Class, &category.Visibility); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Category{}, store.ErrCategoryNotFound
		}
		return models.Category{}, err
	}
	return category, nil
}

func (s *Store) ListWindows(ctx context.Context, branchID string) ([]models.ServiceWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM service_windows
		WHERE branch_id = $1
		ORDER BY number ASC, window_id ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []models.ServiceWindow
	for rows.Next() {
		window, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueInput, mint store.NumberFunc) (ticket models.Ticket, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+windowColumns+` FROM service_windows WHERE window_id = $1 FOR UPDATE`, input.WindowID)
	window, err := scanWindow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrWindowNotFound
		}
		return models.Ticket{}, mapPgError(err)
	}
	if !window.Live() || window.BranchID != input.BranchID {
		return models.Ticket{}, store.ErrWindowNotFound
	}

	seq := window.LastSequence + 1
	if _, err = tx.Exec(ctx, `UPDATE service_windows SET last_sequence = $1 WHERE window_id = $2`, seq, window.WindowID); err != nil {
		return models.Ticket{}, mapPgError(err)
	}

	ticket = models.Ticket{
		TicketNumber: mint(window, seq),
		CustomerName: input.CustomerName,
		CategoryID:   input.CategoryID,
		BranchID:     input.BranchID,
		WindowID:     input.WindowID,
		Status:       models.StatusQueued,
		QueuedAt:     input.QueuedAt.UTC().Truncate(time.Microsecond),
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_number, customer_name, category_id, branch_id, window_id, status, requeue_attempts, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING ticket_id
	`, ticket.TicketNumber, ticket.CustomerName, ticket.CategoryID, ticket.BranchID, ticket.WindowID, ticket.Status, ticket.QueuedAt)
	if err = row.Scan(&ticket.TicketID); err != nil {
		return models.Ticket{}, mapPgError(err)
	}

	event, err := store.NewTicketEvent(nil, store.EventIssued, ticket, ticket.QueuedAt)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = insertTicketEvent(ctx, tx, event); err != nil {
		return models.Ticket{}, mapPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, mapPgError(err)
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListOpenTickets(ctx context.Context, branchID, windowID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE branch_id = $1 AND window_id = $2 AND status IN ('queued', 'called')
		ORDER BY queued_at ASC, ticket_id ASC
	`, branchID, windowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (ticket models.Ticket, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	next := input.Next
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, requeue_attempts = $2, called_at = $3, served_at = $4, cancelled_at = $5, cancelled_by = $6
		WHERE ticket_id = $7 AND status = $8 AND requeue_attempts = $9
		RETURNING `+ticketColumns,
		next.Status, next.RequeueAttempts, truncatePtr(next.CalledAt), truncatePtr(next.ServedAt), truncatePtr(next.CancelledAt), next.CancelledBy,
		next.TicketID, input.FromStatus, input.FromAttempts)
	ticket, err = scanTicket(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, mapPgError(err)
		}
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, next.TicketID).Scan(&exists); err != nil {
			return models.Ticket{}, err
		}
		if !exists {
			err = store.ErrTicketNotFound
			return models.Ticket{}, err
		}
		err = fmt.Errorf("%w: ticket %d changed since read", store.ErrConcurrencyConflict, next.TicketID)
		return models.Ticket{}, err
	}

	prev, err := lastTicketEvent(ctx, tx, ticket.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	event, err := store.NewTicketEvent(prev, input.EventType, ticket, input.OccurredAt)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = insertTicketEvent(ctx, tx, event); err != nil {
		return models.Ticket{}, mapPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, mapPgError(err)
	}
	return ticket, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload []byte
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = payload
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := s.GetTicket(ctx, ticketID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func lastTicketEvent(ctx context.Context, tx pgx.Tx, ticketID int64) (*store.TicketEvent, error) {
	var event store.TicketEvent
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	if err := row.Scan(&event.TicketID, &event.TicketSeq, &event.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, event store.TicketEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

// mapPgError folds serialization failures, deadlocks, lock timeouts and
// unique violations into ErrConcurrencyConflict so the engine can retry.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return fmt.Errorf("%w: %s (%s)", store.ErrConcurrencyConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func scanWindow(row pgx.Row) (models.ServiceWindow, error) {
	var window models.ServiceWindow
	err := row.Scan(&window.WindowID, &window.BranchID, &window.Label, &window.Number, &window.Active, &window.LastSequence, &window.Visibility)
	return window, err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var windowIDNull sql.NullString
	var calledAtNull sql.NullTime
	var servedAtNull sql.NullTime
	var cancelledAtNull sql.NullTime
	var cancelledByNull sql.NullString
	err := row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.CustomerName, &ticket.CategoryID, &ticket.BranchID, &windowIDNull,
		&ticket.Status, &ticket.RequeueAttempts, &ticket.QueuedAt, &calledAtNull, &servedAtNull, &cancelledAtNull, &cancelledByNull)
	if err != nil {
		return models.Ticket{}, err
	}
	if windowIDNull.Valid {
		ticket.WindowID = windowIDNull.String
	}
	ticket.QueuedAt = ticket.QueuedAt.UTC()
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ServedAt = nullTimePtr(servedAtNull)
	ticket.CancelledAt = nullTimePtr(cancelledAtNull)
	ticket.CancelledBy = nullStringPtr(cancelledByNull)
	return ticket, nil
}

func truncatePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	truncated := value.UTC().Truncate(time.Microsecond)
	return &truncated
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	utc := value.Time.UTC()
	return &utc
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

// Load upserts directory records in one transaction. Window counters are
// never lowered by a reseed.
func (s *Store) Load(ctx context.Context, seed store.Seed) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, branch := range seed.Branches {
		if _, err = tx.Exec(ctx, `
			INSERT INTO branches (branch_id, name, visibility) VALUES ($1, $2, $3)
			ON CONFLICT (branch_id) DO UPDATE SET name = EXCLUDED.name, visibility = EXCLUDED.visibility
		`, branch.BranchID, branch.Name, visibilityOrLive(branch.Visibility)); err != nil {
			return fmt.Errorf("seed branch %s: %w", branch.BranchID, err)
		}
	}
	for _, category := range seed.Categories {
		class := category.Class
		if class == "" {
			class = models.CategoryStandard
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO categories (category_id, name, class, visibility) VALUES ($1, $2, $3, $4)
			ON CONFLICT (category_id) DO UPDATE SET name = EXCLUDED.name, class = EXCLUDED.class, visibility = EXCLUDED.visibility
		`, category.CategoryID, category.Name, class, visibilityOrLive(category.Visibility)); err != nil {
			return fmt.Errorf("seed category %s: %w", category.CategoryID, err)
		}
	}
	for _, window := range seed.Windows {
		if _, err = tx.Exec(ctx, `
			INSERT INTO service_windows (window_id, branch_id, label, number, active, last_sequence, visibility)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (window_id) DO UPDATE SET
				branch_id = EXCLUDED.branch_id,
				label = EXCLUDED.label,
				number = EXCLUDED.number,
				active = EXCLUDED.active,
				last_sequence = GREATEST(service_windows.last_sequence, EXCLUDED.last_sequence),
				visibility = EXCLUDED.visibility
		`, window.WindowID, window.BranchID, window.Label, window.Number, window.Active, window.LastSequence, visibilityOrLive(window.Visibility)); err != nil {
			return fmt.Errorf("seed window %s: %w", window.WindowID, err)
		}
	}
	if err = checkLivePrefixes(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func checkLivePrefixes(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `
		SELECT window_id, branch_id, label, number, active, last_sequence, visibility
		FROM service_windows
		WHERE visibility = 'live'
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var windows []models.ServiceWindow
	for rows.Next() {
		window, err := scanWindow(rows)
		if err != nil {
			return err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return store.CheckWindowPrefixes(windows)
}

func visibilityOrLive(value string) string {
	if value == "" {
		return models.VisibilityLive
	}
	return value
}
