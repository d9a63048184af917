package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordTick("BINANCE:ETHUSDT", 2500)
	r.RecordTick("BINANCE:ETHUSDT", 2510)
	r.RecordDropped("missing_price")
	r.RecordReconnect()
	r.RecordBroadcast("priceUpdate", 3)
	r.RecordQueueDepth("sinks", 7)
	r.RecordQueueDepth("sinks", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticksTotal.WithLabelValues("BINANCE:ETHUSDT")))
	assert.Equal(t, 2510.0, testutil.ToFloat64(r.lastPrice.WithLabelValues("BINANCE:ETHUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.droppedTotal.WithLabelValues("missing_price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.broadcastTotal.WithLabelValues("priceUpdate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.queueDepth.WithLabelValues("sinks")))
}

func TestUpstreamStateIsExclusive(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordUpstreamState("connecting")
	r.RecordUpstreamState("subscribed")

	assert.Equal(t, 1, testutil.CollectAndCount(r.upstreamState))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upstreamState.WithLabelValues("subscribed")))
}
