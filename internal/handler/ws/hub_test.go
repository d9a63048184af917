package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"CryptoRelay/internal/domain/models"
	"CryptoRelay/internal/service/ratelimit"
	"CryptoRelay/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	symX = "BINANCE:ETHUSDT"
	symY = "BINANCE:ETHBTC"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, limiter *ratelimit.Limiter) (*Hub, *usecase.AggregationEngine, string) {
	t.Helper()
	engine := usecase.NewAggregationEngine([]string{symX, symY})
	hub := NewHub(Config{AllowedOrigin: "http://localhost:3000", SendBuffer: 16}, engine, limiter, nil, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close(context.Background())
		srv.Close()
	})
	return hub, engine, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func readSnapshot(t *testing.T, conn *websocket.Conn) (map[string]models.PriceTick, map[string]models.HourlyAverage, map[string][]models.PriceTick) {
	t.Helper()
	var (
		prices  map[string]models.PriceTick
		avgs    map[string]models.HourlyAverage
		history map[string][]models.PriceTick
	)
	env := read(t, conn)
	require.Equal(t, models.EventLatestPrices, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &prices))
	env = read(t, conn)
	require.Equal(t, models.EventHourlyAverages, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &avgs))
	env = read(t, conn)
	require.Equal(t, models.EventPriceHistory, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &history))
	return prices, avgs, history
}

func waitCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestNewSubscriberGetsSnapshot(t *testing.T) {
	_, engine, url := newTestHub(t, nil)
	now := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		engine.HandlePriceReceived(models.PriceTick{Symbol: symX, Price: float64(2500 + i), Timestamp: now + int64(i)})
	}

	conn := dial(t, url)
	prices, avgs, history := readSnapshot(t, conn)

	require.Len(t, history, 1)
	require.Len(t, history[symX], 3)
	for i, tk := range history[symX] {
		assert.Equal(t, float64(2500+i), tk.Price)
		assert.Equal(t, symX, tk.Symbol)
	}
	assert.Equal(t, models.PriceTick{Symbol: symX, Price: 2502, Timestamp: now + 2}, prices[symX])
	assert.NotContains(t, prices, symY)
	assert.Equal(t, 3, avgs[symX].Count)
	assert.InDelta(t, 2501, avgs[symX].Average, 1e-9)
}

func TestEmptySnapshotUsesObjects(t *testing.T) {
	_, _, url := newTestHub(t, nil)
	conn := dial(t, url)
	for i := 0; i < 3; i++ {
		env := read(t, conn)
		assert.JSONEq(t, `{}`, string(env.Data), env.Event)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub, _, url := newTestHub(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	readSnapshot(t, a)
	readSnapshot(t, b)
	waitCount(t, hub, 2)

	hub.BroadcastPrice(models.PriceTick{Symbol: symX, Price: 1.5, Timestamp: 42})
	hub.BroadcastAverage(models.HourlyAverage{Symbol: symX, Average: 1.5, Hour: "2026-01-01T10:00:00.000Z", Count: 1})

	for _, conn := range []*websocket.Conn{a, b} {
		env := read(t, conn)
		assert.Equal(t, models.EventPriceUpdate, env.Event)
		assert.JSONEq(t, `{"symbol":"BINANCE:ETHUSDT","price":1.5,"timestamp":42}`, string(env.Data))

		env = read(t, conn)
		assert.Equal(t, models.EventHourlyAverageUpdate, env.Event)
		assert.JSONEq(t, `{"symbol":"BINANCE:ETHUSDT","average":1.5,"hour":"2026-01-01T10:00:00.000Z","count":1}`, string(env.Data))
	}
}

func TestRefreshResendsSnapshot(t *testing.T) {
	_, engine, url := newTestHub(t, nil)
	conn := dial(t, url)
	readSnapshot(t, conn)

	engine.HandlePriceReceived(models.PriceTick{Symbol: symY, Price: 0.05, Timestamp: time.Now().UnixMilli()})
	require.NoError(t, conn.WriteJSON(map[string]string{"event": models.EventGetLatestPrices}))

	prices, _, history := readSnapshot(t, conn)
	assert.Equal(t, 0.05, prices[symY].Price)
	assert.Len(t, history[symY], 1)
}

func TestRefreshThrottled(t *testing.T) {
	hub, _, url := newTestHub(t, ratelimit.New(1, 0))
	conn := dial(t, url)
	readSnapshot(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": models.EventGetLatestPrices}))
	readSnapshot(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]string{"event": models.EventGetLatestPrices}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "somethingElse"}))

	// let the reader consume the requests before broadcasting
	time.Sleep(50 * time.Millisecond)
	hub.BroadcastPrice(models.PriceTick{Symbol: symX, Price: 1})
	assert.Equal(t, models.EventPriceUpdate, read(t, conn).Event)
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub, _, url := newTestHub(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	readSnapshot(t, a)
	readSnapshot(t, b)
	waitCount(t, hub, 2)

	require.NoError(t, a.Close())
	waitCount(t, hub, 1)

	hub.BroadcastPrice(models.PriceTick{Symbol: symX, Price: 7})
	assert.Equal(t, models.EventPriceUpdate, read(t, b).Event)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 4}, usecase.NewAggregationEngine(nil), nil, nil, nil)
	slow := &client{id: "slow", send: make(chan []byte, 1), done: make(chan struct{}), hub: hub}
	hub.clients[slow] = struct{}{}

	hub.BroadcastPrice(models.PriceTick{Symbol: symX, Price: 1})
	assert.Equal(t, 1, hub.Count())
	hub.BroadcastPrice(models.PriceTick{Symbol: symX, Price: 2})
	assert.Equal(t, 0, hub.Count())

	select {
	case <-slow.done:
	default:
		t.Fatal("slow subscriber not closed")
	}
}

func TestOriginCheck(t *testing.T) {
	_, _, url := newTestHub(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://localhost:3000"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	hub, _, url := newTestHub(t, nil)
	conn := dial(t, url)
	readSnapshot(t, conn)
	waitCount(t, hub, 1)

	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, 0, hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// stallingSource holds the second snapshot (the first refresh) after the state
// has been read, until release is closed.
type stallingSource struct {
	*usecase.AggregationEngine
	calls   atomic.Int32
	read    chan struct{}
	release chan struct{}
}

func (s *stallingSource) Snapshot() models.Snapshot {
	snap := s.AggregationEngine.Snapshot()
	if s.calls.Add(1) == 2 {
		close(s.read)
		<-s.release
	}
	return snap
}

func TestBroadcastDuringRefreshFollowsSnapshot(t *testing.T) {
	engine := usecase.NewAggregationEngine([]string{symX})
	src := &stallingSource{AggregationEngine: engine, read: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(Config{SendBuffer: 16}, src, nil, nil, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close(context.Background())
		srv.Close()
	})
	now := time.Now().UnixMilli()
	engine.HandlePriceReceived(models.PriceTick{Symbol: symX, Price: 1, Timestamp: now})

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	readSnapshot(t, conn)
	waitCount(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": models.EventGetLatestPrices}))
	select {
	case <-src.read:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not read state")
	}

	next := models.PriceTick{Symbol: symX, Price: 2, Timestamp: now + 1}
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.HandlePriceReceived(next)
		hub.BroadcastPrice(next)
	}()
	time.Sleep(50 * time.Millisecond)
	close(src.release)

	prices, _, _ := readSnapshot(t, conn)
	assert.Equal(t, 1.0, prices[symX].Price)

	env := read(t, conn)
	require.Equal(t, models.EventPriceUpdate, env.Event)
	var got models.PriceTick
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 2.0, got.Price)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not complete")
	}
}

func TestRegisterCountsPumpsBeforeVisible(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 4}, usecase.NewAggregationEngine(nil), nil, nil, nil)
	c := &client{id: "1", send: make(chan []byte, 4), done: make(chan struct{}), hub: hub}
	require.True(t, hub.register(c))

	// the pumps were never started; Close must still see them counted
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Close(ctx), context.DeadlineExceeded)

	hub.wg.Add(-2)
}
