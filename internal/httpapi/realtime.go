package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"qms/window-queue/internal/live"
	"qms/window-queue/pkg/logger"

	"github.com/igm/sockjs-go/sockjs"
)

type eventEnvelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// realtimeSession is the part of sockjs.Session the subscription loop uses.
type realtimeSession interface {
	Recv() (string, error)
	Send(string) error
}

// NewRealtimeHandler mounts the SockJS endpoint under /realtime. Clients send
// {"action":"subscribe","window_id":"..."} and receive queue.view frames
// until they unsubscribe or disconnect. One window per session.
func NewRealtimeHandler(svc QueueService, l logger.Logger) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		serveRealtime(context.Background(), svc, l, session)
	})
}

type realtimeConn struct {
	svc     QueueService
	log     logger.Logger
	session realtimeSession

	sendMu sync.Mutex
	pumps  sync.WaitGroup
	sub    *live.Subscription
}

func serveRealtime(ctx context.Context, svc QueueService, l logger.Logger, session realtimeSession) {
	conn := &realtimeConn{svc: svc, log: l, session: session}
	defer conn.pumps.Wait()
	defer conn.unsubscribe()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := live.ParseSubscribe([]byte(msg))
		if !ok {
			conn.sendError("invalid_request", "expected subscribe or unsubscribe with window_id")
			continue
		}
		if parsed.Action == "unsubscribe" {
			conn.unsubscribe()
			continue
		}
		conn.subscribe(ctx, parsed)
	}
}

func (c *realtimeConn) subscribe(ctx context.Context, msg live.SubscribeMessage) {
	c.unsubscribe()
	if branchID := strings.TrimSpace(msg.BranchID); branchID != "" {
		if _, err := c.svc.GetWindowQueueView(ctx, branchID, msg.WindowID); err != nil {
			_, code, message := mapError(err)
			c.sendError(code, message)
			return
		}
	}
	sub, err := c.svc.SubscribeWindow(ctx, msg.WindowID)
	if err != nil {
		_, code, message := mapError(err)
		c.sendError(code, message)
		return
	}
	c.sub = sub
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		for view := range sub.C() {
			if err := c.send(eventEnvelope{Type: "queue.view", Payload: view, CreatedAt: time.Now().UTC()}); err != nil {
				c.log.Debug("realtime send failed", "window_id", sub.WindowID, "error", err)
				sub.Close()
			}
		}
	}()
}

func (c *realtimeConn) unsubscribe() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *realtimeConn) sendError(code, message string) {
	_ = c.send(eventEnvelope{
		Type:      "error",
		Payload:   responseError{Code: code, Message: message},
		CreatedAt: time.Now().UTC(),
	})
}

func (c *realtimeConn) send(envelope eventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.Send(string(payload))
}
