package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
)

const writeWait = 10 * time.Second

type Hub struct {
	// 项目 ID -> 正在查看该项目的连接
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	ProjectID int64
	Conn      *websocket.Conn
	mu        sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.ProjectID] == nil {
		h.clients[client.ProjectID] = make(map[*Client]struct{})
	}
	h.clients[client.ProjectID][client] = struct{}{}

	logger.Debug("ws client connected",
		zap.Int64("project_id", client.ProjectID),
		zap.Int("project_conns", len(h.clients[client.ProjectID])),
	)
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.ProjectID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.ProjectID)
		}
	}
	logger.Debug("ws client disconnected", zap.Int64("project_id", client.ProjectID))
}

// SendToProject 向查看该项目的所有连接发送消息，写失败的连接会被移除
func (h *Hub) SendToProject(projectID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var dead []*Client
	for _, c := range h.watchers(projectID) {
		if err := c.write(data); err != nil {
			logger.Warn("ws write failed", zap.Int64("project_id", projectID), zap.Error(err))
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.Unregister(c)
		c.Conn.Close()
	}
	return nil
}

// Forward 把训练事件推给事件所属项目的连接
func (h *Hub) Forward(ev *pubsub.Event) {
	if !h.IsWatched(ev.ProjectID) {
		return
	}
	if err := h.SendToProject(ev.ProjectID, &Message{Type: ev.Type, Data: ev}); err != nil {
		logger.Warn("ws forward failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// watchers 复制一份连接列表，发送时不持锁
func (h *Hub) watchers(projectID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.clients[projectID]
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	return clients
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// IsWatched 是否有连接在查看该项目
func (h *Hub) IsWatched(projectID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[projectID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
