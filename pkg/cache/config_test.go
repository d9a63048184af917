package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedisConfigOptions(t *testing.T) {
	cfg := RedisConfig{Host: "localhost", Port: 6379}
	for _, opt := range []RedisOption{
		WithRedisHost("redis"),
		WithRedisPort(6380),
		WithRedisTimeouts(time.Second, 2*time.Second, 3*time.Second),
		WithRedisPrefix("relay"),
	} {
		opt(&cfg)
	}

	assert.Equal(t, "redis:6380", cfg.Addr())
	assert.Equal(t, time.Second, cfg.DialTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "relay", cfg.Prefix)
}
