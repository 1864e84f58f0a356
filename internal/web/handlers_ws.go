package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"zwave-go-home/internal/events"
	"zwave-go-home/internal/store"
)

const (
	wsBroadcastBuffer = 256
	wsClientBuffer    = 64
	wsReadLimit       = 4096
	wsWriteTimeout    = 10 * time.Second
)

// wsFilter selects the events one client receives. The zero value passes
// everything.
type wsFilter struct {
	types map[string]bool
	node  uint8
}

// parseWSFilter reads ?types=a,b and ?node=N.
func parseWSFilter(r *http.Request) (wsFilter, error) {
	var f wsFilter
	if v := r.URL.Query().Get("types"); v != "" {
		f.types = make(map[string]bool)
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[t] = true
			}
		}
	}
	if v := r.URL.Query().Get("node"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n < 1 || n > 232 {
			return f, fmt.Errorf("invalid node %q", v)
		}
		f.node = uint8(n)
	}
	return f, nil
}

func (f wsFilter) match(e events.Event) bool {
	if f.types != nil && !f.types[e.Type()] {
		return false
	}
	if f.node != 0 {
		id, ok := events.NodeOf(e)
		return ok && id == f.node
	}
	return true
}

// WSHub fans controller events out to WebSocket clients. A client that
// cannot keep up is disconnected rather than slowing the others.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger
	evicted atomic.Uint64

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan events.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter wsFilter
}

// NewWSHub creates a hub. Run must be started before clients register.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan events.Event, wsBroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop, closing every client queue.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case e := <-h.broadcast:
			h.fanOut(e)
		}
	}
}

// fanOut encodes e once and queues it on every interested client.
func (h *WSHub) fanOut(e events.Event) {
	var data []byte
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.filter.match(e) {
			continue
		}
		if data == nil {
			var err error
			if data, err = json.Marshal(events.Wrap(e)); err != nil {
				h.logger.Error("ws marshal", "type", e.Type(), "err", err)
				return
			}
		}
		select {
		case client.send <- data:
		default:
			h.drop(client)
			h.evicted.Add(1)
			h.logger.Warn("ws client evicted, send queue full", "type", e.Type())
		}
	}
}

// drop must be called with mu held.
func (h *WSHub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
}

// Stop shuts the hub down. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues e for delivery and never blocks the caller, which is the
// event bus goroutine.
func (h *WSHub) Broadcast(e events.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("ws broadcast queue full, dropping event", "type", e.Type())
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Evicted counts clients dropped for falling behind.
func (h *WSHub) Evicted() uint64 { return h.evicted.Load() }

// helloMessage is the first frame every client receives.
type helloMessage struct {
	Type    string             `json:"type"`
	Session string             `json:"session"`
	Network store.NetworkState `json:"network"`
}

func (s *Server) hello() []byte {
	data, err := json.Marshal(helloMessage{
		Type:    "hello",
		Session: s.ctrl.SessionID(),
		Network: s.ctrl.NetworkInfo(),
	})
	if err != nil {
		s.logger.Error("ws hello marshal", "err", err)
		return nil
	}
	return data
}

// handleWS streams events to one client. The first frame is a hello with the
// session id and network identity; the rest are event envelopes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseWSFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsClientBuffer),
		filter: filter,
	}
	if hello := s.hello(); hello != nil {
		client.send <- hello
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump discards client frames until the connection or hub closes.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
