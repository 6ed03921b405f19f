package notify

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Hub owns the live websocket connections of this instance and implements
// Emitter over them.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu    sync.Mutex
	conns map[string]*clientConn
}

type clientConn struct {
	id   string
	ws   *websocket.Conn
	send chan any
	once sync.Once
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the web app origin; auth happens at
			// the JWT layer, not via origin checks.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[string]*clientConn),
	}
}

// Accept upgrades an HTTP request and returns the new connection id. The
// caller registers pairings against it; onClose fires when the client goes
// away.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, onClose func(connID string)) (string, error) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", fmt.Errorf("websocket upgrade: %w", err)
	}
	conn := &clientConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan any, 16),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	go h.writePump(conn)
	go h.readPump(conn, onClose)

	h.log.Debug("websocket connected", zap.String("conn_id", conn.id))
	return conn.id, nil
}

// Emit queues an event for one connection.
func (h *Hub) Emit(connID string, event any) error {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %s not attached to this instance", connID)
	}
	select {
	case conn.send <- event:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", connID)
	}
}

// Close tears down one connection.
func (h *Hub) Close(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	delete(h.conns, connID)
	h.mu.Unlock()
	if ok {
		conn.shutdown()
	}
}

// CloseAll tears down every connection, for process shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*clientConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*clientConn)
	h.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
}

func (c *clientConn) shutdown() {
	c.once.Do(func() {
		close(c.send)
		c.ws.Close()
	})
}

func (h *Hub) writePump(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-conn.send:
			if !ok {
				return
			}
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(event); err != nil {
				h.log.Debug("websocket write failed",
					zap.String("conn_id", conn.id),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames to keep pong handling alive and detects
// disconnects.
func (h *Hub) readPump(conn *clientConn, onClose func(connID string)) {
	defer func() {
		h.Close(conn.id)
		if onClose != nil {
			onClose(conn.id)
		}
	}()
	conn.ws.SetReadLimit(1024)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			return
		}
	}
}
