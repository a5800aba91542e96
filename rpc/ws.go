package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"filamint/core/events"
	"filamint/core/types"
	"filamint/crypto"
)

const (
	wsWriteTimeout     = 10 * time.Second
	wsSubscriberBuffer = 64
)

type subscriber struct {
	updates chan *types.Event
	escrow  string
}

// Hub fans committed events out to websocket subscribers. It implements
// events.Emitter. Slow subscribers lose events rather than stall the node.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	origins []string
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// AllowOrigins admits cross-origin streams whose Origin host matches one of
// the patterns. Without patterns only same-origin upgrades are accepted.
func (h *Hub) AllowOrigins(patterns ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.origins = append([]string(nil), patterns...)
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if h == nil || payload == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.escrow != "" && payload.Escrow() != sub.escrow {
			continue
		}
		select {
		case sub.updates <- payload:
		default:
			h.logger.Warn("event stream subscriber lagging, dropping event", slog.String("type", payload.Type))
		}
	}
}

func (h *Hub) subscribe(escrow string) (*subscriber, func()) {
	sub := &subscriber{updates: make(chan *types.Event, wsSubscriberBuffer), escrow: escrow}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
}

// Subscribers returns the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. ?escrow= restricts the stream to a single escrow.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("escrow"))
	if filter != "" {
		addr, err := crypto.ParseAddress(filter)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		filter = crypto.Format(addr)
	}
	h.mu.RLock()
	origins := h.origins
	h.mu.RUnlock()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub, cancel := h.subscribe(filter)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-sub.updates:
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
