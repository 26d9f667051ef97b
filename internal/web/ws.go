package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tiltlevel/internal/level"
)

// Stream wire format: JSON text frames {type, ts, data}. A client gets
// "orientation_init" with the latest snapshot on connect (once one exists)
// and "orientation" for every snapshot after that. Clients that fall behind
// by a full send buffer are disconnected.

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalSnapshot(typ string, snap level.Snapshot) ([]byte, error) {
	ts := snap.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: snap})
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int
	// BroadcastBuf is the hub inbound queue size.
	BroadcastBuf int
}

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
	onCount func(int)
	done    chan struct{}
}

// NewHub builds a hub; onCount, when set, is called from Run whenever the
// number of connected clients changes.
func NewHub(logger *slog.Logger, cfg HubConfig, onCount func(int)) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
		onCount:    onCount,
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", "remote_addr", c.remoteAddr, "clients", n)
			h.notifyCount(n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) notifyCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.notifyCount(0)
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
		h.notifyCount(n)
	}
}

// BroadcastBytes enqueues a serialized frame. It never blocks; a full hub
// queue drops the frame.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("ws hub queue full, dropping frame", "bytes", len(msg))
	}
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
	closeOnce  sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// leave asks the hub to drop this client, unless the hub has already stopped.
func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// shutdown closes the connection and the send queue exactly once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue. It exits on write error or when the hub
// closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				c.leave()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				c.leave()
				return
			}
		}
	}
}

// readPump discards inbound frames so control frames get handled and a
// disconnect is noticed, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			c.leave()
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}
	client := newClient(s.hub, conn, r.RemoteAddr, s.log)

	// Queue the init frame before registering so it is the first thing sent.
	if snap := s.ctrl.Snapshot(); snap.Seq > 0 {
		if msg, err := marshalSnapshot("orientation_init", snap); err == nil {
			client.send <- msg
		}
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		client.shutdown()
		return
	}

	// Pumps outlive the request; the hub owns the connection from here on.
	go client.writePump()
	go client.readPump()
}

// RunBroadcaster forwards every published snapshot to the hub until ctx
// ends or the observable is closed.
func RunBroadcaster(ctx context.Context, hub *Hub, src *level.Observable, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	// Subscribe replays the latest value, which connected clients already
	// got as orientation_init. Only forward values newer than it.
	var lastSeq uint64
	if snap, ok := src.Latest(); ok {
		lastSeq = snap.Seq
	}
	id, ch := src.Subscribe(16)
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				logger.Debug("ws broadcaster stopping (source closed)")
				return
			}
			if snap.Seq <= lastSeq {
				continue
			}
			lastSeq = snap.Seq
			msg, err := marshalSnapshot("orientation", snap)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}
