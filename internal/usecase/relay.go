package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"CryptoRelay/internal/domain/models"
	drepo "CryptoRelay/internal/domain/repository"
	applogger "CryptoRelay/pkg/logger"
)

// Broadcaster fans events out to downstream subscribers.
type Broadcaster interface {
	BroadcastPrice(t models.PriceTick)
	BroadcastAverage(avg models.HourlyAverage)
}

// EventSink receives events after they were broadcast. Offers must not block.
type EventSink interface {
	OfferTick(t models.PriceTick)
	OfferAverage(avg models.HourlyAverage)
}

// FeedRelay is the only writer of the aggregation state: one goroutine takes
// ticks from the feed and, in arrival order, aggregates, broadcasts and hands
// them to the sinks.
type FeedRelay struct {
	feed   drepo.PriceFeed
	engine *AggregationEngine
	hub    Broadcaster
	sinks  EventSink
	log    *applogger.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewFeedRelay creates a new FeedRelay. sinks may be nil.
func NewFeedRelay(feed drepo.PriceFeed, engine *AggregationEngine, hub Broadcaster, sinks EventSink, log *applogger.Logger) *FeedRelay {
	if log == nil {
		log = applogger.Nop()
	}
	return &FeedRelay{feed: feed, engine: engine, hub: hub, sinks: sinks, log: log, done: make(chan struct{})}
}

// Start starts the feed and the relay loop.
func (r *FeedRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	r.started = true
	go r.consume(r.feed.Ticks())
	r.log.Info("relay: started", applogger.Strings("symbols", r.engine.Symbols()))
	return nil
}

func (r *FeedRelay) consume(ticks <-chan models.PriceTick) {
	defer close(r.done)
	for t := range ticks {
		r.process(t)
	}
}

func (r *FeedRelay) process(t models.PriceTick) {
	avg, ok := r.engine.HandlePriceReceived(t)
	r.hub.BroadcastPrice(t)
	if ok {
		r.hub.BroadcastAverage(avg)
	}
	if r.sinks != nil {
		r.sinks.OfferTick(t)
		if ok {
			r.sinks.OfferAverage(avg)
		}
	}
}

// IsConnected reports whether the upstream feed is subscribed.
func (r *FeedRelay) IsConnected() bool { return r.feed.State() == "subscribed" }

// UpstreamState returns the upstream connection state name.
func (r *FeedRelay) UpstreamState() string { return r.feed.State() }

// Shutdown stops the feed and waits for the relay loop to finish the ticks
// already received.
func (r *FeedRelay) Shutdown(ctx context.Context) error {
	err := r.feed.Shutdown()
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("relay shutdown: %w", ctx.Err()))
	}
	r.log.Info("relay: stopped")
	return err
}
