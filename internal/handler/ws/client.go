package ws

import (
	"encoding/json"
	"sync"
	"time"

	"CryptoRelay/internal/domain/models"
	applogger "CryptoRelay/pkg/logger"

	"github.com/gorilla/websocket"
)

const maxInboundMessage = 4096

// client is one downstream subscriber. The send queue is never closed; done
// signals the pumps to stop.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	hub  *Hub
}

// enqueue reports false when the subscriber cannot keep up.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *client) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = c.conn.Close()
		}
		c.hub.unregister(c)
	})
}

func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer c.close()
	c.conn.SetReadLimit(maxInboundMessage)
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			c.hub.log.Debug("ws: ignoring malformed message", applogger.String("id", c.id), applogger.Error(err))
			continue
		}
		switch env.Event {
		case models.EventGetLatestPrices:
			if !c.hub.limiter.Allow(c.id) {
				c.hub.metrics.RecordDropped("refresh_throttled")
				c.hub.log.Debug("ws: refresh throttled", applogger.String("id", c.id))
				continue
			}
			c.hub.sendSnapshot(c)
		default:
			c.hub.log.Debug("ws: ignoring unknown event", applogger.String("event", env.Event))
		}
	}
}

func (c *client) writePump() {
	defer c.hub.wg.Done()
	var ping <-chan time.Time
	if c.hub.cfg.PingInterval > 0 {
		t := time.NewTicker(c.hub.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.hub.log.Debug("ws: write failed", applogger.String("id", c.id), applogger.Error(err))
				c.close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}
