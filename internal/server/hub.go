package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/logging"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 64
)

// StreamMessage is one websocket frame sent to viewers.
type StreamMessage struct {
	Kind    string             `json:"kind"` // "weights", "event" or "log"
	Time    time.Time          `json:"time"`
	Weights map[string]float32 `json:"weights,omitempty"`
	Event   *bus.Event         `json:"event,omitempty"`
	Log     *logging.LogEntry  `json:"log,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans weight snapshots and bus events out to websocket viewers. Slow
// viewers drop frames rather than stall the hub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	weights  WeightSource
	interval time.Duration
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub subscribes to every event type on eventBus when it is non-nil.
func NewHub(weights WeightSource, eventBus *bus.EventBus, interval time.Duration, logger zerolog.Logger) *Hub {
	h := &Hub{
		clients:  make(map[*client]struct{}),
		weights:  weights,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	if eventBus != nil {
		eventBus.SubscribeMultiple(bus.AllEventTypes, func(e bus.Event) {
			h.broadcast(StreamMessage{Kind: "event", Time: e.Time, Event: &e})
		})
	}
	return h
}

// Run streams weights every interval until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return nil
		case t := <-ticker.C:
			if h.weights == nil || h.ClientCount() == 0 {
				continue
			}
			h.broadcast(StreamMessage{Kind: "weights", Time: t, Weights: h.weights.Snapshot()})
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Viewer connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards viewer input and unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) broadcast(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Encode stream message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// BroadcastLog forwards a log entry to viewers. It matches the signature of
// logging.Logger.SetOnLog.
func (h *Hub) BroadcastLog(entry logging.LogEntry) {
	if h.ClientCount() == 0 {
		return
	}
	h.broadcast(StreamMessage{Kind: "log", Time: time.Now(), Log: &entry})
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every viewer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}
