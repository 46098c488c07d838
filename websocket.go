// websocket.go
package secretariat

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// =====================
// Configuración WS
// =====================

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the frame pushed to the UI for every notice.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Created time.Time       `json:"created"`
}

func rawPayload(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

// =====================
// WS Manager & Client
// =====================

// WSClient is one open socket of a user.
type WSClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	userID  int64
}

// WSManager keeps the open sockets grouped by user.
type WSManager struct {
	conns      map[int64]map[*WSClient]bool
	mux        sync.RWMutex
	register   chan *WSClient
	unregister chan *WSClient
	closed     chan struct{}
	stopOnce   sync.Once
}

func NewWSManager() *WSManager {
	return &WSManager{
		conns:      make(map[int64]map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		closed:     make(chan struct{}),
	}
}

func (m *WSManager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mux.Lock()
			if _, ok := m.conns[c.userID]; !ok {
				m.conns[c.userID] = make(map[*WSClient]bool)
			}
			m.conns[c.userID][c] = true
			m.mux.Unlock()
			Logger().Debug("ws_connected", zap.Int64("user_id", c.userID))
		case c := <-m.unregister:
			m.mux.Lock()
			if set, ok := m.conns[c.userID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(m.conns, c.userID)
					}
				}
			}
			m.mux.Unlock()
			Logger().Debug("ws_disconnected", zap.Int64("user_id", c.userID))
		case <-m.closed:
			m.mux.Lock()
			for _, set := range m.conns {
				for cl := range set {
					cl.conn.Close()
					close(cl.send)
				}
			}
			m.conns = make(map[int64]map[*WSClient]bool)
			m.mux.Unlock()
			return
		}
	}
}

func (m *WSManager) Stop() { m.stopOnce.Do(func() { close(m.closed) }) }

// Connected reports how many sockets userID has open.
func (m *WSManager) Connected(userID int64) int {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return len(m.conns[userID])
}

// =====================
// Broadcast helpers
// =====================

func (m *WSManager) BroadcastToUser(userID int64, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		Logger().Warn("ws_marshal_failed", zap.Error(err))
		return
	}

	m.mux.RLock()
	defer m.mux.RUnlock()

	for c := range m.conns[userID] {
		select {
		case c.send <- data:
		default:
			// slow reader
			go func(cl *WSClient) {
				m.unregister <- cl
				cl.conn.Close()
			}(c)
		}
	}
}

// =====================
// Pumps
// =====================

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// =====================
// ServeWS
// =====================

// ServeWS authenticates the socket, registers it and replays unread notifications.
func ServeWS(auth *Authenticator, notes NotificationRepository, manager *WSManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := extractTokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := auth.ParseToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger().Warn("ws_upgrade_failed", zap.Error(err))
			return
		}

		client := &WSClient{
			manager: manager,
			conn:    conn,
			send:    make(chan []byte, 256),
			userID:  claims.UserID,
		}
		manager.register <- client

		if notes != nil {
			pending, err := notes.GetUnreadNotifications(claims.UserID)
			if err == nil {
				for _, n := range pending {
					manager.BroadcastToUser(claims.UserID, wsMessage{
						ID:      n.ID,
						Type:    n.Type,
						Payload: rawPayload(n.Payload),
						Created: n.CreatedAt,
					})
				}
			}
		}

		go client.writePump()
		go client.readPump()
	}
}
