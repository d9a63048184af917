// Package ws serves the downstream WebSocket channel: every subscriber gets a
// full snapshot on connect and then every tick and hourly average.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"CryptoRelay/internal/domain/models"
	domrepo "CryptoRelay/internal/domain/repository"
	"CryptoRelay/internal/service/ratelimit"
	applogger "CryptoRelay/pkg/logger"
	"CryptoRelay/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// SnapshotSource provides the state pushed on connect and on refresh.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// Config controls the downstream endpoint.
type Config struct {
	Path          string
	AllowedOrigin string // "" or "*" accepts any origin
	SendBuffer    int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
}

// Hub tracks connected subscribers and fans events out to them.
type Hub struct {
	cfg      Config
	source   SnapshotSource
	limiter  *ratelimit.Limiter
	log      *applogger.Logger
	metrics  domrepo.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	nextID  atomic.Uint64
	wg      sync.WaitGroup
}

// NewHub creates a hub. limiter may be nil to disable refresh throttling.
func NewHub(cfg Config, source SnapshotSource, limiter *ratelimit.Limiter, log *applogger.Logger, m domrepo.Metrics) *Hub {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.SendBuffer < 4 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	h := &Hub{
		cfg:     cfg,
		source:  source,
		limiter: limiter,
		log:     log,
		metrics: m,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	return origin == h.cfg.AllowedOrigin
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET(h.cfg.Path, echo.WrapHandler(h))
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordError("ws_upgrade")
		h.log.Warn("ws: upgrade failed", applogger.Error(err), applogger.String("remote", r.RemoteAddr))
		return
	}

	c := &client{
		id:   strconv.FormatUint(h.nextID.Add(1), 10),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
		hub:  h,
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.log.Info("ws: subscriber connected", applogger.String("id", c.id), applogger.String("remote", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

// register queues the snapshot and adds c under the write lock, so no
// broadcast can slip between the two. The pump goroutines are counted before
// c becomes visible to Close.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	msgs, err := h.snapshotMessages()
	if err != nil {
		h.log.Error("ws: encode snapshot", applogger.Error(err))
		return false
	}
	for _, m := range msgs {
		c.send <- m
	}
	h.wg.Add(2)
	h.clients[c] = struct{}{}
	h.metrics.RecordSubscribers(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.limiter.Forget(c.id)
	h.metrics.RecordSubscribers(n)
	h.log.Info("ws: subscriber disconnected", applogger.String("id", c.id), applogger.Int("subscribers", n))
}

func (h *Hub) snapshotMessages() ([][]byte, error) {
	snap := h.source.Snapshot()
	out := make([][]byte, 0, 3)
	for _, env := range []models.Envelope{
		{Event: models.EventLatestPrices, Data: snap.LatestPrices},
		{Event: models.EventHourlyAverages, Data: snap.HourlyAverages},
		{Event: models.EventPriceHistory, Data: snap.PriceHistory},
	} {
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Event, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// sendSnapshot pushes the full state to one subscriber. Like register, it
// reads and enqueues under the write lock so a broadcast is either already in
// the snapshot or queued after it.
func (h *Hub) sendSnapshot(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	msgs, err := h.snapshotMessages()
	slow := false
	if err == nil {
		for _, m := range msgs {
			if !c.enqueue(m) {
				slow = true
				break
			}
		}
	}
	h.mu.Unlock()

	if err != nil {
		h.log.Error("ws: encode snapshot", applogger.Error(err))
		return
	}
	if slow {
		h.metrics.RecordDropped("slow_subscriber")
		c.close()
	}
}

// BroadcastPrice sends a priceUpdate to every subscriber.
func (h *Hub) BroadcastPrice(t models.PriceTick) {
	h.broadcast(models.EventPriceUpdate, t)
}

// BroadcastAverage sends an hourlyAverageUpdate to every subscriber.
func (h *Hub) BroadcastAverage(avg models.HourlyAverage) {
	h.broadcast(models.EventHourlyAverageUpdate, avg)
}

func (h *Hub) broadcast(event string, data interface{}) {
	b, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("ws: encode event", applogger.String("event", event), applogger.Error(err))
		return
	}

	var slow []*client
	sent := 0
	h.mu.RLock()
	for c := range h.clients {
		if c.enqueue(b) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.metrics.RecordBroadcast(event, sent)
	for _, c := range slow {
		h.metrics.RecordDropped("slow_subscriber")
		h.log.Warn("ws: disconnecting slow subscriber", applogger.String("id", c.id))
		c.close()
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and waits for their pumps until ctx
// expires. Pending sends are abandoned.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws hub close: %w", ctx.Err())
	}
}
