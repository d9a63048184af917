package usecase

import (
	"sync"
	"time"

	"CryptoRelay/internal/domain/models"
	domrepo "CryptoRelay/internal/domain/repository"
	"CryptoRelay/pkg/metrics"
	"CryptoRelay/pkg/ringbuf"
)

const (
	DefaultHistorySize = 10000
	DefaultHourlySlots = 24
	DefaultWindow      = time.Hour

	// HourKeyLayout matches the ISO-8601 form browsers produce for Date.toISOString.
	HourKeyLayout = models.HourLayout
)

// HourKey labels a window by the start of the UTC hour containing windowStart.
func HourKey(windowStart time.Time) string {
	return windowStart.UTC().Truncate(time.Hour).Format(HourKeyLayout)
}

type symbolState struct {
	history *ringbuf.Buffer[models.PriceTick]
	hourly  *ringbuf.Buffer[models.HourlyAverage]
}

// EngineOption configures AggregationEngine.
type EngineOption func(*AggregationEngine)

func WithHistorySize(n int) EngineOption {
	return func(e *AggregationEngine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

func WithHourlySlots(n int) EngineOption {
	return func(e *AggregationEngine) {
		if n > 0 {
			e.hourlySlots = n
		}
	}
}

func WithWindow(d time.Duration) EngineOption {
	return func(e *AggregationEngine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithClock replaces time.Now for window computation.
func WithClock(now func() time.Time) EngineOption {
	return func(e *AggregationEngine) { e.now = now }
}

func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *AggregationEngine) { e.metrics = m }
}

// AggregationEngine keeps per-symbol bounded price history and the rolling
// hourly average. Writes come from a single relay goroutine; reads may come
// from any goroutine and always receive copies.
type AggregationEngine struct {
	symbols     []string
	historySize int
	hourlySlots int
	window      time.Duration
	now         func() time.Time
	metrics     domrepo.Metrics

	mu     sync.RWMutex
	states map[string]*symbolState
}

// NewAggregationEngine pre-seeds empty state for every allowlisted symbol.
func NewAggregationEngine(symbols []string, opts ...EngineOption) *AggregationEngine {
	e := &AggregationEngine{
		symbols:     append([]string(nil), symbols...),
		historySize: DefaultHistorySize,
		hourlySlots: DefaultHourlySlots,
		window:      DefaultWindow,
		now:         time.Now,
		metrics:     metrics.Nop{},
		states:      make(map[string]*symbolState, len(symbols)),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range e.symbols {
		e.states[s] = e.newState()
	}
	return e
}

func (e *AggregationEngine) newState() *symbolState {
	return &symbolState{
		history: ringbuf.New[models.PriceTick](e.historySize),
		hourly:  ringbuf.New[models.HourlyAverage](e.hourlySlots),
	}
}

// Symbols returns the allowlist.
func (e *AggregationEngine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// HandlePriceReceived appends the tick to its symbol's history and recomputes
// the trailing-window average. It returns the upserted average, or false when
// no tick of the symbol falls inside the window.
// Ticks for symbols outside the allowlist are accepted.
func (e *AggregationEngine) HandlePriceReceived(t models.PriceTick) (models.HourlyAverage, bool) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[t.Symbol]
	if !ok {
		st = e.newState()
		e.states[t.Symbol] = st
	}
	st.history.Push(t)
	e.metrics.RecordTick(t.Symbol, t.Price)

	avg, ok := e.recomputeLocked(t.Symbol, st)
	e.metrics.RecordLatency("aggregate", time.Since(start).Seconds())
	return avg, ok
}

func (e *AggregationEngine) recomputeLocked(symbol string, st *symbolState) (models.HourlyAverage, bool) {
	windowStart := e.now().Add(-e.window)
	from := windowStart.UnixMilli()

	var sum float64
	count := 0
	st.history.Each(func(t models.PriceTick) {
		if t.Timestamp >= from {
			sum += t.Price
			count++
		}
	})
	if count == 0 {
		return models.HourlyAverage{}, false
	}

	avg := models.HourlyAverage{
		Symbol:  symbol,
		Average: sum / float64(count),
		Hour:    HourKey(windowStart),
		Count:   count,
	}
	if i := st.hourly.Index(func(h models.HourlyAverage) bool { return h.Hour == avg.Hour }); i >= 0 {
		st.hourly.Set(i, avg)
	} else {
		st.hourly.Push(avg)
	}
	e.metrics.RecordHourlyAverage(symbol, avg.Average)
	return avg, true
}

// GetLatestPrice returns the newest tick of symbol.
func (e *AggregationEngine) GetLatestPrice(symbol string) (models.PriceTick, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[symbol]
	if !ok {
		return models.PriceTick{}, false
	}
	return st.history.Last()
}

// GetAllLatestPrices maps every allowlisted symbol with history to its newest tick.
func (e *AggregationEngine) GetAllLatestPrices() map[string]models.PriceTick {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latestPricesLocked()
}

func (e *AggregationEngine) latestPricesLocked() map[string]models.PriceTick {
	out := make(map[string]models.PriceTick, len(e.symbols))
	for _, s := range e.symbols {
		if t, ok := e.states[s].history.Last(); ok {
			out[s] = t
		}
	}
	return out
}

// GetHourlyAverage returns the most recently upserted average of symbol.
func (e *AggregationEngine) GetHourlyAverage(symbol string) (models.HourlyAverage, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[symbol]
	if !ok {
		return models.HourlyAverage{}, false
	}
	return st.hourly.Last()
}

// GetAllHourlyAverages maps every allowlisted symbol with an average to it.
func (e *AggregationEngine) GetAllHourlyAverages() map[string]models.HourlyAverage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.averagesLocked()
}

func (e *AggregationEngine) averagesLocked() map[string]models.HourlyAverage {
	out := make(map[string]models.HourlyAverage, len(e.symbols))
	for _, s := range e.symbols {
		if a, ok := e.states[s].hourly.Last(); ok {
			out[s] = a
		}
	}
	return out
}

// GetHourlyAverages returns the retained averages of symbol, oldest first.
func (e *AggregationEngine) GetHourlyAverages(symbol string) []models.HourlyAverage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[symbol]
	if !ok {
		return []models.HourlyAverage{}
	}
	return st.hourly.Snapshot()
}

// GetPriceHistory returns a copy of the history of symbol in arrival order.
// The result is empty, never nil, for unknown symbols.
func (e *AggregationEngine) GetPriceHistory(symbol string) []models.PriceTick {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[symbol]
	if !ok {
		return []models.PriceTick{}
	}
	return st.history.Snapshot()
}

// Snapshot captures the full state pushed to a new subscriber. History is
// reported for allowlisted symbols that have received at least one tick.
func (e *AggregationEngine) Snapshot() models.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := models.Snapshot{
		LatestPrices:   e.latestPricesLocked(),
		HourlyAverages: e.averagesLocked(),
		PriceHistory:   make(map[string][]models.PriceTick, len(e.symbols)),
	}
	for s := range snap.LatestPrices {
		snap.PriceHistory[s] = e.states[s].history.Snapshot()
	}
	return snap
}
