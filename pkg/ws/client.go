package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client WebSocket 客户端
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *Subscription
}

// clientRequest 客户端发来的订阅请求，例如 {"action":"subscribe","topics":["trip:42"]}
type clientRequest struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// NewClient 创建客户端并订阅初始主题
func NewClient(hub *Hub, conn *websocket.Conn, topics ...string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		sub:  hub.Subscribe(topics...),
	}
}

// ReadPump 读取订阅请求，连接断开时取消订阅
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Action != "subscribe" {
			continue
		}
		c.hub.Join(c.sub, req.Topics...)
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.C():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
