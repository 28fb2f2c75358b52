package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/homeinventory/internal/logging"
	syncpkg "github.com/kimhsiao/homeinventory/internal/sync"
	"github.com/kimhsiao/homeinventory/internal/sync/status"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin only admits pages served from this machine. Non-browser
// clients send no Origin.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// WebSocket message types.
const (
	EventStatus = "sync.status"
	EventSync   = "sync.event"
)

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WSClient is one connected UI.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *StatusHub

	// closed is guarded by hub.mu; send is closed exactly when it is set
	closed bool
}

// StatusHub pushes status changes and sync events to connected clients.
type StatusHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	stop       chan struct{}
	closeOnce  sync.Once
	current    func() status.Status
	mu         sync.RWMutex
	seq        atomic.Int64
	log        *logging.Logger
}

// NewStatusHub creates a hub. current supplies the snapshot a new client
// receives on connect.
func NewStatusHub(current func() status.Status) *StatusHub {
	hub := &StatusHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stop:       make(chan struct{}),
		current:    current,
		log:        logging.Get().Component("ws"),
	}
	go hub.run()
	return hub
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", map[string]interface{}{"client": client.id, "total": n})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", map[string]interface{}{"client": client.id, "total": n})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow reader
					client.close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close disconnects every client and stops the hub.
func (h *StatusHub) Close() {
	h.closeOnce.Do(func() { close(h.stop) })
}

// ClientCount returns the number of connected clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. It never blocks the caller;
// when the queue is full the message is dropped.
func (h *StatusHub) Broadcast(messageType string, data interface{}) {
	b, err := encode(messageType, data)
	if err != nil {
		h.log.Error("failed to marshal message", err)
		return
	}
	select {
	case h.broadcast <- b:
	case <-h.stop:
	default:
		h.log.Warn("broadcast queue full, message dropped", map[string]interface{}{"type": messageType})
	}
}

// BroadcastStatus is a status.Watcher subscriber.
func (h *StatusHub) BroadcastStatus(s status.Status) {
	h.Broadcast(EventStatus, s)
}

// OnSyncEvent forwards engine events.
func (h *StatusHub) OnSyncEvent(event syncpkg.SyncEvent) {
	h.Broadcast(EventSync, event)
}

func encode(messageType string, data interface{}) ([]byte, error) {
	return json.Marshal(WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ServeHTTP upgrades the request and registers the client. The client gets
// the current status immediately.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &WSClient{
		id:   strconv.FormatInt(h.seq.Add(1), 10) + "-" + r.RemoteAddr,
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	if h.current != nil {
		if b, err := encode(EventStatus, h.current()); err == nil {
			client.send <- b
		}
	}

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains client frames. The only client message is a ping.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Action == "ping" {
			b, _ := json.Marshal(map[string]interface{}{"action": "pong", "timestamp": time.Now().Unix()})
			c.trySend(b)
		}
	}
}

// close ends the write pump. The caller holds hub.mu.
func (c *WSClient) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues a direct reply unless the client is gone or backed up.
func (c *WSClient) trySend(b []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *WSClient) writePump() {
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
