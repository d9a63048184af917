package repository

import (
	"context"

	"CryptoRelay/internal/domain/models"
)

// PriceFeed is an upstream source of normalized ticks.
type PriceFeed interface {
	Start(ctx context.Context) error
	Ticks() <-chan models.PriceTick
	Shutdown() error
	State() string
}

// AverageStore persists hourly averages keyed by (symbol, hour).
type AverageStore interface {
	Save(ctx context.Context, avg models.HourlyAverage) error
	FindBySymbol(ctx context.Context, symbol string) ([]models.HourlyAverage, error)
	FindLatestBySymbol(ctx context.Context, symbol string) (*models.HourlyAverage, error)
	FindAllLatest(ctx context.Context, symbols []string) (map[string]models.HourlyAverage, error)
}

// EventPublisher ships pipeline events to a message broker.
type EventPublisher interface {
	PublishTick(ctx context.Context, t models.PriceTick) error
	PublishAverage(ctx context.Context, avg models.HourlyAverage) error
	Close() error
}

// SnapshotStore keeps the latest values per symbol in a shared cache.
type SnapshotStore interface {
	PutPrice(ctx context.Context, t models.PriceTick) error
	PutAverage(ctx context.Context, avg models.HourlyAverage) error
	LatestPrice(ctx context.Context, symbol string) (*models.PriceTick, error)
	LatestAverage(ctx context.Context, symbol string) (*models.HourlyAverage, error)
	// LatestPrices omits symbols with nothing stored.
	LatestPrices(ctx context.Context, symbols []string) (map[string]models.PriceTick, error)
}

type Metrics interface {
	RecordTick(symbol string, price float64)
	RecordDropped(reason string)
	RecordError(kind string)
	RecordHourlyAverage(symbol string, avg float64)
	RecordReconnect()
	RecordUpstreamState(state string)
	RecordSubscribers(n int)
	RecordBroadcast(event string, n int)
	RecordLatency(op string, seconds float64)
	RecordQueueDepth(queue string, n int)
}
