package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestBuildOptions(t *testing.T) {
	cfg := ClientConfig{
		Host:         "ch",
		Port:         9000,
		Database:     "cryptorelay",
		User:         "default",
		Password:     "pw",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	opts := buildOptions(cfg)
	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, "cryptorelay", opts.Auth.Database)
	assert.Equal(t, "default", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 10*time.Second, opts.ReadTimeout)
	assert.Empty(t, opts.Settings)
}

func TestBuildOptionsHTTPAndSettings(t *testing.T) {
	cfg := ClientConfig{
		Host:         "ch",
		Port:         8123,
		UseHTTP:      true,
		ReadTimeout:  time.Second,
		WriteTimeout: 4 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	}
	opts := buildOptions(cfg)
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Equal(t, 4*time.Second, opts.ReadTimeout)
	assert.Equal(t, 30, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
