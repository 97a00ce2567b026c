// Package display serves the mirror's display clients over WebSocket.
// Clients receive conversation events and audio, and send back gestures and
// playback status.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/bus"
)

const (
	// WebSocketEndpoint is the path for display connections.
	WebSocketEndpoint = "/ws"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/healthz"

	// MetricsEndpoint exposes Prometheus metrics.
	MetricsEndpoint = "/metrics"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the envelope for everything sent to a display.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"time"`
}

// inbound is a message sent by a display.
type inbound struct {
	Type   string `json:"type"` // gesture, reset, playback
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"` // ended, blocked, error
	Error  string `json:"error,omitempty"`
}

// Hub fans conversation events out to connected displays.
type Hub struct {
	addr     string
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	// latest message per replayed type, sent to displays as they connect
	lastMu sync.Mutex
	last   map[string][]byte

	handlersMu sync.RWMutex
	onGesture  func()
	onReset    func()

	player *Player
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// replayed lists the event types whose latest value a new display needs.
var replayed = map[string]bool{
	string(bus.EventTypeStateChanged): true,
	string(bus.EventTypeResponse):     true,
}

// NewHub creates a hub and subscribes it to every conversation event on b.
func NewHub(logger zerolog.Logger, b *bus.EventBus, addr string) *Hub {
	h := &Hub{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The mirror UI is served from a different origin than the hub.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
		last:    make(map[string][]byte),
	}
	h.player = newPlayer(h, logger)

	if b != nil {
		b.SubscribeMultiple(bus.AllEventTypes, h.handleBusEvent)
	}
	return h
}

// OnGesture registers the handler for display taps and clicks.
func (h *Hub) OnGesture(fn func()) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onGesture = fn
}

// OnReset registers the handler for reset requests from a display.
func (h *Hub) OnReset(fn func()) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onReset = fn
}

// Player returns the tts.Player that plays audio on connected displays.
func (h *Hub) Player() *Player {
	return h.player
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketEndpoint, h.handleWebSocket)
	mux.HandleFunc(HealthEndpoint, h.handleHealth)
	mux.Handle(MetricsEndpoint, promhttp.Handler())
	return mux
}

// Start serves the hub until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("display hub already running")
	}
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		h.logger.Info().Str("addr", h.addr).Msg("Display hub listening")
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error().Err(err).Msg("Display hub server error")
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	return nil
}

// Stop closes every display connection and shuts the server down.
func (h *Hub) Stop() error {
	h.clientsMu.Lock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
	h.player.failAll("display hub stopped")

	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// ClientCount returns the number of connected displays.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every connected display.
func (h *Hub) Broadcast(msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal display message")
		return
	}

	if replayed[msg.Type] {
		h.lastMu.Lock()
		h.last[msg.Type] = data
		h.lastMu.Unlock()
	}

	h.clientsMu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Msg("Display send buffer full, dropping client")
			h.unregister(c)
		}
	}
}

func (h *Hub) handleBusEvent(ev bus.Event) {
	h.Broadcast(Message{Type: string(ev.Type), Data: ev.Data, Time: ev.Time})
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.lastMu.Lock()
	for _, data := range h.last {
		c.send <- data
	}
	h.lastMu.Unlock()

	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info().Int("clients", count).Msg("Display connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		c.close()
		h.logger.Info().Int("clients", count).Msg("Display disconnected")
		if count == 0 {
			h.player.failAll("display disconnected")
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("Display connection error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(msg)
	}
}

func (h *Hub) dispatch(msg inbound) {
	switch msg.Type {
	case "gesture":
		h.handlersMu.RLock()
		fn := h.onGesture
		h.handlersMu.RUnlock()
		if fn != nil {
			fn()
		}

	case "reset":
		h.handlersMu.RLock()
		fn := h.onReset
		h.handlersMu.RUnlock()
		if fn != nil {
			fn()
		}

	case "playback":
		h.player.report(msg.ID, msg.Status, msg.Error)

	default:
		h.logger.Debug().Str("type", msg.Type).Msg("Ignoring display message")
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Clients int    `json:"clients"`
	}{
		Status:  "healthy",
		Service: "mirror-display-hub",
		Clients: h.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
