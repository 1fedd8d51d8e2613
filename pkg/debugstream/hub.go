// Package debugstream streams live VM trace events to connected
// debugger clients over WebSocket, opt-in via the CLI's --attach flag
// and the VM's Trace callback.
package debugstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oakscript/oak/pkg/configuration"
	"github.com/oakscript/oak/pkg/logger"
)

func getWriteWait() time.Duration {
	return configuration.GetDuration("debugstream", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("debugstream", "pong_timeout", 60*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxClients() int {
	return configuration.GetInt("debugstream", "max_clients", 16)
}

var newline = []byte{'\n'}

// Frame is one VM execution step, shaped for JSON transport. It
// mirrors lang.TraceEvent plus the run it belongs to, so a hub can
// multiplex several concurrent runs to the same set of clients.
type Frame struct {
	RunID string   `json:"run_id"`
	PC    uint32   `json:"pc"`
	Op    string   `json:"op"`
	Stack []string `json:"stack"`
}

// Client is one connected debugger, subscribed to a single run.
type Client struct {
	id    string
	runID string
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
}

// Hub tracks connected debug-stream clients and fans trace frames
// out to whichever of them are watching a given run.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWebSocket upgrades an HTTP request to a debug-stream WebSocket
// connection subscribed to runID.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request, runID string) {
	h.mu.RLock()
	count := len(h.clients)
	h.mu.RUnlock()
	if count >= getMaxClients() {
		logger.Warn(logger.AreaDebugStream, "rejecting connection, max clients reached (%d)", count)
		http.Error(w, "debug stream full", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logger.AreaDebugStream, "upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:    uuid.New().String(),
		runID: runID,
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
	}
	h.register(client)
	logger.Info(logger.AreaDebugStream, "client %s connected, watching run %s", client.id, runID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Publish fans frame out to every client watching its run.
func (h *Hub) Publish(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error(logger.AreaDebugStream, "marshal frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.runID != frame.RunID {
			continue
		}
		select {
		case c.send <- data:
		case <-time.After(100 * time.Millisecond):
			logger.Warn(logger.AreaDebugStream, "send timeout for client %s, dropping frame", c.id)
		}
	}
}

// ClientCount reports how many debuggers are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logger.Debug(logger.AreaDebugStream, "client %s disconnected: %v", c.id, err)
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
