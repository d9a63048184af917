package finnhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"CryptoRelay/internal/domain/models"
	drepo "CryptoRelay/internal/domain/repository"
	applogger "CryptoRelay/pkg/logger"
	"CryptoRelay/pkg/metrics"

	"github.com/gorilla/websocket"
)

// ErrMissingAPIKey is returned by New when no token is configured.
var ErrMissingAPIKey = errors.New("finnhub: api key is required")

// State of the upstream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateClosingForReconnect
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosingForReconnect:
		return "closing_for_reconnect"
	default:
		return "unknown"
	}
}

// Timer is the handle of a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// pendingReconnect identifies one scheduled reconnect. It exists before the
// timer does, so a callback that fires early still matches it.
type pendingReconnect struct {
	timer Timer
}

// Option configures Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithScheduler replaces the reconnect scheduler.
func WithScheduler(f AfterFunc) Option {
	return func(c *Client) { c.afterFunc = f }
}

// WithBuffer sets the capacity of the tick channel.
func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// Client keeps one logical connection to the Finnhub WebSocket API and emits
// normalized ticks. Recovery from any non-normal close is a single reconnect
// after reconnectDelay.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	dialer    *websocket.Dialer
	afterFunc AfterFunc
	now       func() time.Time
	log       *applogger.Logger
	metrics   drepo.Metrics
	bufSize   int

	ticks chan models.PriceTick

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    *websocket.Conn
	pending *pendingReconnect // nil if none
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Finnhub client. It fails with ErrMissingAPIKey if apiKey is empty.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        append([]string(nil), symbols...),
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		dialer:         websocket.DefaultDialer,
		afterFunc:      func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:            time.Now,
		log:            applogger.Nop(),
		metrics:        metrics.Nop{},
		bufSize:        1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ticks = make(chan models.PriceTick, c.bufSize)
	return c, nil
}

// Ticks returns the channel of parsed ticks. It is closed by Shutdown.
func (c *Client) Ticks() <-chan models.PriceTick { return c.ticks }

// State returns the current connection state name.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Start begins connecting in the background. Dial failures are handled by
// the reconnect schedule, not returned.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("finnhub: client is shut down")
	}
	if c.started {
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setStateLocked(StateConnecting)
	c.wg.Add(1)
	go c.connect()
	return nil
}

// Shutdown cancels any pending reconnect, closes the transport and waits for
// the reader to stop. No tick is emitted after Shutdown returns.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopPendingLocked()
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
	}
	c.wg.Wait()
	close(c.ticks)
	c.log.Info("finnhub: shut down")
	return err
}

func (c *Client) connect() {
	defer c.wg.Done()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Info("finnhub: connecting", applogger.String("url", c.websocketURL))
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.log.Error("finnhub: authentication failed, check FINNHUB_API_KEY", applogger.Error(err))
		} else {
			c.log.Error("finnhub: dial failed", applogger.Error(err))
		}
		c.metrics.RecordError("upstream_dial")
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.setStateLocked(StateSubscribed)
	c.mu.Unlock()

	c.log.Info("finnhub: connected", applogger.Strings("symbols", c.symbols))
	if err := c.subscribe(conn); err != nil {
		// the read loop observes the broken transport and reschedules
		c.log.Error("finnhub: subscribe failed", applogger.Error(err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.pingInterval > 0 {
		c.watchPongs(conn)
	}
	c.wg.Add(1)
	go c.readLoop(ctx, conn)
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(ctx, conn)
	}
	c.mu.Unlock()
}

func (c *Client) endpoint() string {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Sprintf("%s?token=%s", c.websocketURL, url.QueryEscape(c.apiKey))
	}
	q := u.Query()
	q.Set("token", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	for _, s := range c.symbols {
		if err := c.writeJSON(conn, map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.log.Debug("finnhub: subscribed", applogger.String("symbol", s))
	}
	return nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleMessage(ctx, conn, b)
	}
}

// watchPongs arms a read deadline of two ping intervals and extends it on
// every pong, so a silent upstream surfaces as a read error.
func (c *Client) watchPongs(conn *websocket.Conn) {
	wait := 2 * c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.log.Debug("finnhub: ping failed", applogger.Error(err))
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, conn *websocket.Conn, b []byte) {
	f, err := Parse(b, c.now())
	if err != nil {
		c.metrics.RecordDropped("unparseable")
		c.log.Debug("finnhub: dropped malformed frame", applogger.Error(err))
		return
	}

	switch f.Type {
	case TypePing:
		if err := c.writeJSON(conn, map[string]string{"type": "pong"}); err != nil {
			c.log.Debug("finnhub: pong failed", applogger.Error(err))
		}
		return
	case TypeError:
		c.metrics.RecordError("upstream_provider")
		c.log.Error("finnhub: provider error", applogger.String("msg", f.Msg))
		return
	}

	for i := 0; i < f.Dropped; i++ {
		c.metrics.RecordDropped("invalid_item")
	}
	for _, t := range f.Ticks {
		if ctx.Err() != nil {
			return
		}
		select {
		case c.ticks <- t:
		case <-ctx.Done():
			return
		}
	}
}

// handleClose runs once per connection when its reader fails.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	if code == websocket.CloseNormalClosure {
		c.setStateLocked(StateDisconnected)
		c.log.Info("finnhub: connection closed normally")
		return
	}

	switch code {
	case websocket.ClosePolicyViolation:
		c.log.Error("finnhub: closed for policy violation, check api key and subscription limits", applogger.Error(err))
	case websocket.CloseAbnormalClosure:
		c.log.Error("finnhub: closed unexpectedly (abnormal closure)", applogger.Error(err))
	case websocket.CloseProtocolError:
		c.log.Error("finnhub: closed for protocol error", applogger.Error(err))
	default:
		c.log.Warn("finnhub: connection closed", applogger.Int("code", code), applogger.Error(err))
	}
	c.metrics.RecordError("upstream_closed")
	c.setStateLocked(StateClosingForReconnect)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked replaces any pending reconnect with a new one.
func (c *Client) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	c.stopPendingLocked()
	c.log.Info("finnhub: scheduling reconnect", applogger.Duration("delay_ms", c.reconnectDelay))
	c.metrics.RecordReconnect()
	p := &pendingReconnect{}
	c.pending = p
	p.timer = c.afterFunc(c.reconnectDelay, func() { c.fireReconnect(p) })
}

func (c *Client) stopPendingLocked() {
	if c.pending == nil {
		return
	}
	if c.pending.timer != nil {
		c.pending.timer.Stop()
	}
	c.pending = nil
}

func (c *Client) fireReconnect(p *pendingReconnect) {
	c.mu.Lock()
	if c.closed || c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info("finnhub: reconnecting")
	c.connect()
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.RecordUpstreamState(s.String())
}
