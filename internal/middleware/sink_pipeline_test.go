package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CryptoRelay/internal/domain/models"
	"CryptoRelay/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	metrics.Nop
	mu      sync.Mutex
	errors  map[string]int
	dropped map[string]int
	depth   int
	peak    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) RecordQueueDepth(queue string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = n
	if n > m.peak {
		m.peak = n
	}
}

func (m *countingMetrics) depths() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth, m.peak
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *countingMetrics) RecordDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *countingMetrics) count(table map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return table[key]
}

type recordingSink struct {
	name     string
	mu       sync.Mutex
	ticks    []models.PriceTick
	averages []models.HourlyAverage
	failures int // calls to fail before succeeding
	calls    int
	block    chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) HandleTick(ctx context.Context, t models.PriceTick) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("unavailable")
	}
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *recordingSink) HandleAverage(ctx context.Context, a models.HourlyAverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.averages = append(s.averages, a)
	return nil
}

func (s *recordingSink) snapshot() ([]models.PriceTick, []models.HourlyAverage, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceTick(nil), s.ticks...), append([]models.HourlyAverage(nil), s.averages...), s.calls
}

func TestSinkPipelineDeliversInOrder(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	p := NewSinkPipeline(nil, []Sink{a, nil, b})
	require.Equal(t, 2, p.Len())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		p.OfferTick(models.PriceTick{Symbol: "X", Price: float64(i), Timestamp: int64(i)})
	}
	p.OfferAverage(models.HourlyAverage{Symbol: "X", Average: 2, Count: 5})

	require.Eventually(t, func() bool {
		_, avgs, _ := b.snapshot()
		return len(avgs) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	for _, s := range []*recordingSink{a, b} {
		ticks, avgs, _ := s.snapshot()
		require.Len(t, ticks, 5)
		for i, tk := range ticks {
			assert.Equal(t, float64(i), tk.Price)
		}
		assert.Equal(t, 5, avgs[0].Count)
	}
}

func TestSinkPipelineRetriesWithBackoff(t *testing.T) {
	s := &recordingSink{name: "flaky", failures: 2}
	m := newCountingMetrics()
	p := NewSinkPipeline(m, []Sink{s}, WithRetry(3, time.Millisecond, 4*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	p.OfferTick(models.PriceTick{Symbol: "X", Price: 1})
	require.Eventually(t, func() bool {
		ticks, _, _ := s.snapshot()
		return len(ticks) == 1
	}, time.Second, 5*time.Millisecond)
	_, _, calls := s.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, m.count(m.errors, "sink_flaky"))
}

func TestSinkPipelineGivesUpAfterAttempts(t *testing.T) {
	s := &recordingSink{name: "down", failures: 100}
	p := NewSinkPipeline(nil, []Sink{s}, WithRetry(2, time.Millisecond, time.Millisecond))
	p.Start(context.Background())

	p.OfferTick(models.PriceTick{Symbol: "X", Price: 1})
	p.OfferTick(models.PriceTick{Symbol: "X", Price: 2})
	require.Eventually(t, func() bool {
		_, _, calls := s.snapshot()
		return calls == 4
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
	ticks, _, _ := s.snapshot()
	assert.Empty(t, ticks)
}

func TestSinkPipelineDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	s := &recordingSink{name: "slow", block: block}
	m := newCountingMetrics()
	p := NewSinkPipeline(m, []Sink{s}, WithBufferSize(2))
	p.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			p.OfferTick(models.PriceTick{Symbol: "X", Price: float64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("offer blocked")
	}
	assert.Greater(t, m.count(m.dropped, "sink_buffer_full"), 0)

	close(block)
	require.NoError(t, p.Stop(context.Background()))
}

func TestSinkPipelineWithoutSinksIsInert(t *testing.T) {
	p := NewSinkPipeline(nil, nil)
	p.OfferTick(models.PriceTick{Symbol: "X"})
	assert.NoError(t, p.Stop(context.Background()))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestSinkPipelineIgnoresOffersAfterStop(t *testing.T) {
	s := &recordingSink{name: "a"}
	p := NewSinkPipeline(nil, []Sink{s})
	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))

	p.OfferTick(models.PriceTick{Symbol: "X"})
	time.Sleep(20 * time.Millisecond)
	_, _, calls := s.snapshot()
	assert.Zero(t, calls)
}

func TestSinkPipelineReportsQueueDepth(t *testing.T) {
	block := make(chan struct{})
	s := &recordingSink{name: "slow", block: block}
	m := newCountingMetrics()
	p := NewSinkPipeline(m, []Sink{s}, WithBufferSize(8))
	p.Start(context.Background())

	for i := 0; i < 4; i++ {
		p.OfferTick(models.PriceTick{Symbol: "X", Price: float64(i)})
	}
	_, peak := m.depths()
	assert.Greater(t, peak, 0)

	close(block)
	require.Eventually(t, func() bool {
		ticks, _, _ := s.snapshot()
		return len(ticks) == 4
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		depth, _ := m.depths()
		return depth == 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
}
