package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowConsumesAndRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("sub-1"))
	assert.True(t, l.Allow("sub-1"))
	assert.False(t, l.Allow("sub-1"))
	assert.True(t, l.Allow("sub-2"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("sub-1"))
	assert.False(t, l.Allow("sub-1"))
}

func TestZeroCapacityDisables(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x"))
	}
	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("x"))
}

func TestForgetResetsBucket(t *testing.T) {
	l := New(1, 0)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	l.Forget("k")
	assert.True(t, l.Allow("k"))
}
