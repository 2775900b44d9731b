/*
Package notify fans sale lifecycle events out to live subscribers.

PURPOSE:
  The sales engine hands every event to a sales.Notifier and moves on. This
  package provides the notifiers: a websocket Hub for browsers, a Redis
  publisher for other services, and a Dispatcher that buffers events and
  feeds both without ever blocking the engine.

WIRING:
  hub := notify.NewHub(logger)
  go hub.Run(ctx)

  dispatcher := notify.NewDispatcher(logger, 256, hub, redisPublisher)
  go dispatcher.Run(ctx)

  engine := sales.NewEngine(store, sales.WithNotifier(dispatcher))
  router.Get("/api/ws", hub.ServeHTTP)

SUBSCRIPTIONS:
  A websocket client receives every event, or only the events of one sale
  when it connects with ?sale_id=<id>.
*/
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/warp/sales-engine/sales"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

// Hub tracks websocket subscribers and broadcasts events to them.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan sales.Event
	done       chan struct{}

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	saleID sales.SaleID // empty means every sale
	send   chan sales.Event
}

var _ sales.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan sales.Event, 256),
		done:        make(chan struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				if sub.saleID != "" && sub.saleID != ev.SaleID {
					continue
				}
				select {
				case sub.send <- ev:
				default:
					// Slow reader; drop it rather than stall everyone else.
					delete(h.subscribers, sub)
					close(sub.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify queues ev for broadcast. It never blocks; a full queue drops the
// event with a warning.
func (h *Hub) Notify(_ context.Context, ev sales.Event) error {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("hub broadcast queue full, dropping event", "type", ev.Type, "sale_id", ev.SaleID)
	}
	return nil
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		hub:    h,
		conn:   conn,
		saleID: sales.SaleID(r.URL.Query().Get("sale_id")),
		send:   make(chan sales.Event, sendBuffer),
	}

	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}

// readPump discards client frames and keeps the read deadline fresh.
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				s.hub.logger.Warn("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
