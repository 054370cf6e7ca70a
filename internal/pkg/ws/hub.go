package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/internal/pkg/events"
)

type Hub struct {
	// 每个用户可以有多个连接（多标签页、重连等场景）
	clients map[int64]map[*Client]struct{}
	// 管理员连接接收所有用户的事件
	admins map[*Client]struct{}
	mu     sync.RWMutex
}

type Client struct {
	UserID int64
	Admin  bool
	Conn   *websocket.Conn
	mu     sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		admins:  make(map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Admin {
		h.admins[client] = struct{}{}
	} else {
		if h.clients[client.UserID] == nil {
			h.clients[client.UserID] = make(map[*Client]struct{})
		}
		h.clients[client.UserID][client] = struct{}{}
	}

	logrus.WithFields(logrus.Fields{
		"user_id": client.UserID,
		"admin":   client.Admin,
		"total":   h.countLocked(),
	}).Debug("ws client connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Admin {
		delete(h.admins, client)
	} else if conns, ok := h.clients[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	logrus.WithField("user_id", client.UserID).Debug("ws client disconnected")
}

// Publish 把计费事件推送给订阅所属用户及所有管理员连接
func (h *Hub) Publish(_ context.Context, evt events.DomainEvent) error {
	return h.SendToUser(evt.UserID, &Message{Type: evt.Type, Data: evt})
}

// SendToUser 向指定用户的所有连接发送消息，同时抄送管理员
func (h *Hub) SendToUser(userID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(h.clients[userID])+len(h.admins))
	for c := range h.clients[userID] {
		clients = append(clients, c)
	}
	for c := range h.admins {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			logrus.WithField("user_id", c.UserID).WithError(err).Warn("ws write failed")
		}
	}
	return nil
}

// IsOnline 检查用户是否在线
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[userID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	total := len(h.admins)
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
