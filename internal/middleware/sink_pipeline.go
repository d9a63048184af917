package middleware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"CryptoRelay/internal/domain/models"
	domrepo "CryptoRelay/internal/domain/repository"
	applogger "CryptoRelay/pkg/logger"
	"CryptoRelay/pkg/metrics"
)

// Sink is an optional, non-authoritative consumer of relay events.
type Sink interface {
	Name() string
	HandleTick(ctx context.Context, t models.PriceTick) error
	HandleAverage(ctx context.Context, avg models.HourlyAverage) error
}

type sinkEvent struct {
	tick *models.PriceTick
	avg  *models.HourlyAverage
}

// SinkPipeline sits between the relay and the sinks.
// Offers never block: events are buffered and dropped when the buffer is full,
// and a failing sink is retried with capped exponential backoff on the worker.
type SinkPipeline struct {
	sinks       []Sink
	metrics     domrepo.Metrics
	log         *applogger.Logger
	bufSize     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	callTimeout time.Duration

	bufCh   chan sinkEvent
	stopCh  chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	mu      sync.Mutex
	started bool
}

type PipelineOption func(*SinkPipeline)

// WithBufferSize sets the event buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets the delivery attempts per sink and the backoff bounds.
func WithRetry(attempts int, base, max time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if base > 0 {
			p.baseBackoff = base
		}
		if max >= p.baseBackoff {
			p.maxBackoff = max
		}
	}
}

// WithCallTimeout bounds each sink call.
func WithCallTimeout(d time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *SinkPipeline) { p.log = l }
}

// NewSinkPipeline creates a new pipeline. Nil sinks are skipped.
func NewSinkPipeline(m domrepo.Metrics, sinks []Sink, opts ...PipelineOption) *SinkPipeline {
	if m == nil {
		m = metrics.Nop{}
	}
	p := &SinkPipeline{
		metrics:     m,
		log:         applogger.Nop(),
		bufSize:     1000,
		maxAttempts: 3,
		baseBackoff: 50 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		callTimeout: 5 * time.Second,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan sinkEvent, p.bufSize)
	return p
}

// Len returns the number of configured sinks.
func (p *SinkPipeline) Len() int { return len(p.sinks) }

// Start launches the delivery worker.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop signals the worker, which drains what is already buffered with a
// single attempt per sink, and waits for it until ctx expires.
func (p *SinkPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	started := p.started
	close(p.stopCh)
	p.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink pipeline stop: %w", ctx.Err())
	}
}

// OfferTick queues a tick for every sink.
func (p *SinkPipeline) OfferTick(t models.PriceTick) {
	p.offer(sinkEvent{tick: &t})
}

// OfferAverage queues an hourly average for every sink.
func (p *SinkPipeline) OfferAverage(avg models.HourlyAverage) {
	p.offer(sinkEvent{avg: &avg})
}

func (p *SinkPipeline) offer(ev sinkEvent) {
	if len(p.sinks) == 0 || p.stopped.Load() {
		return
	}
	select {
	case p.bufCh <- ev:
		p.metrics.RecordQueueDepth(queueName, len(p.bufCh))
	default:
		p.metrics.RecordDropped("sink_buffer_full")
	}
}

const queueName = "sinks"

func (p *SinkPipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		case ev := <-p.bufCh:
			p.deliver(ctx, ev, p.maxAttempts)
			p.metrics.RecordQueueDepth(queueName, len(p.bufCh))
		}
	}
}

func (p *SinkPipeline) drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.bufCh:
			p.deliver(ctx, ev, 1)
		default:
			return
		}
	}
}

func (p *SinkPipeline) deliver(ctx context.Context, ev sinkEvent, attempts int) {
	for _, s := range p.sinks {
		backoff := p.baseBackoff
		for attempt := 1; ; attempt++ {
			start := time.Now()
			err := p.call(ctx, s, ev)
			if err == nil {
				p.metrics.RecordLatency("sink_"+s.Name(), time.Since(start).Seconds())
				break
			}
			p.metrics.RecordError("sink_" + s.Name())
			if attempt >= attempts {
				p.log.Warn("sink: giving up on event",
					applogger.String("sink", s.Name()),
					applogger.Int("attempts", attempt),
					applogger.Error(err))
				break
			}
			if !p.sleep(ctx, backoff) {
				return
			}
			if backoff *= 2; backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
		}
	}
}

func (p *SinkPipeline) call(ctx context.Context, s Sink, ev sinkEvent) error {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if ev.tick != nil {
		return s.HandleTick(cctx, *ev.tick)
	}
	return s.HandleAverage(cctx, *ev.avg)
}

// sleep waits d unless the pipeline is stopping.
func (p *SinkPipeline) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
