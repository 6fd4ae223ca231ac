package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"okx-tracker/internal/snapshot"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 8
)

// Message 为推送给看板的消息。
type Message struct {
	Type     string                    `json:"type"`
	Snapshot *snapshot.AccountSnapshot `json:"snapshot"`
}

// Hub 将每次发布的快照推送给所有 WebSocket 连接。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool

	onClients func(n int)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub 创建推送中心。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// OnClientsChanged 注册连接数变化回调。
func (h *Hub) OnClientsChanged(fn func(n int)) {
	h.mu.Lock()
	h.onClients = fn
	h.mu.Unlock()
}

// Publish 广播快照；发送缓冲已满的连接跳过本条消息。
func (h *Hub) Publish(snap *snapshot.AccountSnapshot) {
	if snap == nil {
		return
	}
	data, err := json.Marshal(Message{Type: "snapshot", Snapshot: snap})
	if err != nil {
		h.logger.Warn("序列化快照失败", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("推送缓冲已满，丢弃消息", zap.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP 升级为 WebSocket 并立即推送最近一次快照。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Close 断开所有连接，之后的连接会被拒绝。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	notify := h.onClients
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	if notify != nil {
		notify(0)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	n := len(h.clients)
	notify := h.onClients
	h.mu.Unlock()

	if notify != nil {
		notify(n)
	}
	h.logger.Debug("看板已连接", zap.String("remote", c.conn.RemoteAddr().String()), zap.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	notify := h.onClients
	h.mu.Unlock()

	c.close()
	if notify != nil {
		notify(n)
	}
	h.logger.Debug("看板已断开", zap.Int("clients", n))
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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

// readPump 只处理控制帧，看板发送的内容被忽略。
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
