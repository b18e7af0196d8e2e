package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/window-queue/internal/live"
	"qms/window-queue/internal/models"
	"qms/window-queue/internal/queue"
	"qms/window-queue/internal/store"
	"qms/window-queue/pkg/logger"
)

// QueueService is the engine surface the HTTP layer drives.
type QueueService interface {
	IssueTicket(ctx context.Context, input queue.IssueInput) (models.Ticket, error)
	CallNext(ctx context.Context, branchID, windowID string) (models.Ticket, bool, error)
	ConfirmCalled(ctx context.Context, ticketID int64) (models.Ticket, error)
	MarkServed(ctx context.Context, ticketID int64) (models.Ticket, error)
	Requeue(ctx context.Context, ticketID int64, cancelledBy string) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	TicketHistory(ctx context.Context, ticketID int64) ([]store.TicketEvent, error)
	GetWindowQueueView(ctx context.Context, branchID, windowID string) (models.WindowQueueView, error)
	GetBranchQueueView(ctx context.Context, branchID string) (map[string]models.WindowQueueView, error)
	SubscribeWindow(ctx context.Context, windowID string) (*live.Subscription, error)
}

type Handler struct {
	svc       QueueService
	log       logger.Logger
	heartbeat time.Duration
}

type Options struct {
	// StreamHeartbeat is the comment-frame interval on SSE streams.
	StreamHeartbeat time.Duration
	Logger          logger.Logger
}

type issueTicketRequest struct {
	RequestID    string `json:"request_id"`
	BranchID     string `json:"branch_id"`
	WindowID     string `json:"window_id"`
	CategoryID   string `json:"category_id"`
	CustomerName string `json:"customer_name"`
}

type requeueRequest struct {
	RequestID   string `json:"request_id"`
	CancelledBy string `json:"cancelled_by"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func NewHandler(svc QueueService, options Options) *Handler {
	if options.StreamHeartbeat <= 0 {
		options.StreamHeartbeat = 20 * time.Second
	}
	if options.Logger == nil {
		options.Logger = logger.NewNop()
	}
	return &Handler{
		svc:       svc,
		log:       options.Logger,
		heartbeat: options.StreamHeartbeat,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/branches/", h.handleBranch)
	mux.HandleFunc("/api/windows/", h.handleWindowStream)
	mux.Handle("/realtime/", NewRealtimeHandler(h.svc, h.log))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = requestIDFrom(r)
	}

	ticket, err := h.svc.IssueTicket(r.Context(), queue.IssueInput{
		BranchID:     req.BranchID,
		WindowID:     req.WindowID,
		CategoryID:   req.CategoryID,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		h.writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// handleTicket serves /api/tickets/{id}, /api/tickets/{id}/events and
// /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ticketID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "ticket_id must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.svc.GetTicket(r.Context(), ticketID)
		if err != nil {
			h.writeServiceError(w, requestIDFrom(r), err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := h.svc.TicketHistory(r.Context(), ticketID)
		if err != nil {
			h.writeServiceError(w, requestIDFrom(r), err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID int64, action string) {
	var (
		ticket models.Ticket
		err    error
	)
	requestID := requestIDFrom(r)
	switch action {
	case "confirm":
		ticket, err = h.svc.ConfirmCalled(r.Context(), ticketID)
	case "serve":
		ticket, err = h.svc.MarkServed(r.Context(), ticketID)
	case "requeue":
		var req requeueRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.RequestID) != "" {
			requestID = strings.TrimSpace(req.RequestID)
		}
		ticket, err = h.svc.Requeue(r.Context(), ticketID, req.CancelledBy)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleBranch serves /api/branches/{b}/queue,
// /api/branches/{b}/windows/{w}/queue and /api/branches/{b}/windows/{w}/call-next.
func (h *Handler) handleBranch(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/branches/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	requestID := requestIDFrom(r)

	switch {
	case len(parts) == 2 && parts[1] == "queue":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		views, err := h.svc.GetBranchQueueView(r.Context(), parts[0])
		if err != nil {
			h.writeServiceError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	case len(parts) == 4 && parts[1] == "windows" && parts[3] == "queue":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := h.svc.GetWindowQueueView(r.Context(), parts[0], parts[2])
		if err != nil {
			h.writeServiceError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case len(parts) == 4 && parts[1] == "windows" && parts[3] == "call-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, found, err := h.svc.CallNext(r.Context(), parts[0], parts[2])
		if err != nil {
			h.writeServiceError(w, requestID, err)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	resp := errorResponse{RequestID: requestID, Error: responseError{Code: code, Message: msg}}
	var verr *queue.ValidationError
	if errors.As(err, &verr) {
		resp.Error.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "request_id", requestID, "error", err)
	}
	writeJSON(w, status, resp)
}

func mapError(err error) (int, string, string) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request", verr.Error()
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrWindowNotFound):
		return http.StatusNotFound, "window_not_found", "window not found"
	case errors.Is(err, store.ErrCategoryNotFound):
		return http.StatusNotFound, "category_not_found", "category not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, queue.ErrWindowBusy):
		return http.StatusConflict, "window_busy", "window already has a called ticket"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, queue.ErrConflict):
		return http.StatusConflict, "conflict", "queue is busy, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
