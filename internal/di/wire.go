//go:build wireinject
// +build wireinject

package di

import (
	"CryptoRelay/pkg/config"
	"CryptoRelay/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Domain state and upstream
		ProvideAggregationEngine,
		ProvideFinnhubFeed,

		// Downstream
		ProvideRefreshLimiter,
		ProvideHub,

		// Optional sinks
		ProvideSinks,
		ProvideSinkPipeline,

		// Use cases and transport
		ProvideRelay,
		ProvidePricesHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
