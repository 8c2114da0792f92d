package realtime

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	subject string
	claims  *FeedClaims
	hub     *Hub
}

func NewClient(conn *websocket.Conn, hub *Hub, claims *FeedClaims) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		subject: claims.Subject,
		claims:  claims,
	}
}

// SubscribeMessage is sent by feed clients, e.g.
// {"action":"subscribe","topics":["telemetry"]}
type SubscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warnw("ReadMessage error", "subject", c.subject, "error", err)
			}
			break
		}

		var req SubscribeMessage
		if err := jsonStd.Unmarshal(msg, &req); err != nil {
			c.hub.logger.Warnw("JSON unmarshal error", "error", err)
			continue
		}

		if req.Action != "subscribe" {
			c.hub.logger.Warnw("unknown feed action", "action", req.Action)
			continue
		}
		for _, topic := range req.Topics {
			if !c.claims.Allows(topic) {
				c.hub.logger.Warnw("feed topic not allowed", "subject", c.subject, "topic", topic)
				continue
			}
			c.hub.Subscribe(topic, c)
			c.hub.logger.Infow("feed subscribed", "subject", c.subject, "topic", topic)
		}
	}
}

func (c *Client) WritePump() {
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
				c.hub.logger.Warnw("WriteMessage error", "subject", c.subject, "error", err)
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
