package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/stellarfest/gamehall/gamehall/period"
)

const (
	writeTimeout  = 5 * time.Second
	sendQueueSize = 16
)

// Hub fans period status events out to websocket subscribers. Delivery is
// fire-and-forget: a slow or dead subscriber is dropped, never waited on,
// and a failed publish never propagates back to the state machine. Each
// subscriber has a single writer draining a FIFO queue, so back-to-back
// transitions arrive in publish order.
type Hub struct {
	subscribers *xsync.Map[string, *subscriber]
	nextID      atomic.Uint64
	upgrader    websocket.Upgrader
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: xsync.NewMap[string, *subscriber](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and registers the client for status events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed",
			slog.String("type", "http"),
			slog.Any("error", err))
		return
	}

	id := fmt.Sprintf("sub-%d", h.nextID.Add(1))
	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
	h.subscribers.Store(id, sub)

	slog.Info("Status subscriber connected",
		slog.String("type", "http"),
		slog.String("subscriber", id))

	go h.writeLoop(id, sub)

	// Reader goroutine only watches for close; subscribers never send.
	go func() {
		defer h.drop(id, sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishStatus implements period.Notifier.
func (h *Hub) PublishStatus(event period.StatusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode status event",
			slog.String("type", "error"),
			slog.Any("error", err))
		return
	}

	h.subscribers.Range(func(id string, sub *subscriber) bool {
		select {
		case sub.queue <- payload:
		default:
			// Queue full: the subscriber stopped draining, cut it loose.
			h.drop(id, sub)
		}
		return true
	})
}

func (h *Hub) writeLoop(id string, sub *subscriber) {
	defer h.drop(id, sub)
	for {
		select {
		case payload := <-sub.queue:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (h *Hub) drop(id string, sub *subscriber) {
	if _, loaded := h.subscribers.LoadAndDelete(id); loaded {
		close(sub.done)
		sub.conn.Close()
		slog.Info("Status subscriber disconnected",
			slog.String("type", "http"),
			slog.String("subscriber", id))
	}
}

// Close disconnects every subscriber, used during shutdown.
func (h *Hub) Close() {
	h.subscribers.Range(func(id string, sub *subscriber) bool {
		h.drop(id, sub)
		return true
	})
}
