package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"CryptoRelay/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	ticks    chan models.PriceTick
	mu       sync.Mutex
	started  bool
	shutdown bool
	once     sync.Once
}

func newFakeFeed() *fakeFeed { return &fakeFeed{ticks: make(chan models.PriceTick, 16)} }

func (f *fakeFeed) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeFeed) Ticks() <-chan models.PriceTick { return f.ticks }

func (f *fakeFeed) Shutdown() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.shutdown = true
		f.mu.Unlock()
		close(f.ticks)
	})
	return nil
}

func (f *fakeFeed) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started && !f.shutdown {
		return "subscribed"
	}
	return "disconnected"
}

// eventLog records every call in order, across the hub and the sinks.
type eventLog struct {
	mu     sync.Mutex
	events []string
	prices []models.PriceTick
	avgs   []models.HourlyAverage
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeHub struct{ log *eventLog }

func (h fakeHub) BroadcastPrice(t models.PriceTick) {
	h.log.mu.Lock()
	h.log.prices = append(h.log.prices, t)
	h.log.mu.Unlock()
	h.log.add("price:" + t.Symbol)
}

func (h fakeHub) BroadcastAverage(a models.HourlyAverage) {
	h.log.mu.Lock()
	h.log.avgs = append(h.log.avgs, a)
	h.log.mu.Unlock()
	h.log.add("avg:" + a.Symbol)
}

type fakeSinks struct{ log *eventLog }

func (s fakeSinks) OfferTick(t models.PriceTick)        { s.log.add("sink-tick:" + t.Symbol) }
func (s fakeSinks) OfferAverage(a models.HourlyAverage) { s.log.add("sink-avg:" + a.Symbol) }

func TestFeedRelayProcessesInOrder(t *testing.T) {
	feed := newFakeFeed()
	engine, clock := newTestEngine()
	log := &eventLog{}
	r := NewFeedRelay(feed, engine, fakeHub{log}, fakeSinks{log}, nil)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsConnected())

	feed.ticks <- tickAt(symA, 1, clock.Now())
	feed.ticks <- tickAt(symB, 2, clock.Now().Add(-3*time.Hour)) // outside the window
	feed.ticks <- tickAt(symA, 3, clock.Now())
	require.NoError(t, r.Shutdown(context.Background()))

	assert.Equal(t, []string{
		"price:" + symA, "avg:" + symA, "sink-tick:" + symA, "sink-avg:" + symA,
		"price:" + symB, "sink-tick:" + symB,
		"price:" + symA, "avg:" + symA, "sink-tick:" + symA, "sink-avg:" + symA,
	}, log.snapshot())

	require.Len(t, log.avgs, 2)
	assert.Equal(t, 2, log.avgs[1].Count)
	assert.InDelta(t, 2, log.avgs[1].Average, 1e-9)
	assert.Len(t, engine.GetPriceHistory(symA), 2)
	assert.Len(t, engine.GetPriceHistory(symB), 1)
	assert.False(t, r.IsConnected())
}

func TestFeedRelayWithoutSinks(t *testing.T) {
	feed := newFakeFeed()
	engine, clock := newTestEngine()
	log := &eventLog{}
	r := NewFeedRelay(feed, engine, fakeHub{log}, nil, nil)
	require.NoError(t, r.Start(context.Background()))

	feed.ticks <- tickAt(symC, 10, clock.Now())
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"price:" + symC, "avg:" + symC}, log.snapshot())
}

func TestFeedRelayShutdownWithoutStart(t *testing.T) {
	feed := newFakeFeed()
	engine, _ := newTestEngine()
	r := NewFeedRelay(feed, engine, fakeHub{&eventLog{}}, nil, nil)
	assert.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, "disconnected", r.UpstreamState())
}
