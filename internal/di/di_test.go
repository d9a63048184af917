package di

import (
	"testing"

	"CryptoRelay/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAppWithoutSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Finnhub.APIKey = "test-key"
	cfg.Log.Level = "error"

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)
}

func TestInitializeAppRequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"

	_, err := InitializeApp(cfg)
	assert.Error(t, err)
}

func TestEmptySinksYieldNilInterfaces(t *testing.T) {
	s := &Sinks{}
	assert.Empty(t, s.List())
	assert.Empty(t, s.Closers())
	assert.Nil(t, s.AverageStore())
	assert.Nil(t, s.SnapshotStore())
	assert.NoError(t, s.closeAll())
}

func TestRefreshLimiterDisabledByDefault(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, ProvideRefreshLimiter(cfg))

	cfg.Downstream.RefreshCapacity = 2
	cfg.Downstream.RefreshPerSec = 1
	assert.NotNil(t, ProvideRefreshLimiter(cfg))
}
