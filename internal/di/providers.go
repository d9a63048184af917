package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	domrepo "CryptoRelay/internal/domain/repository"
	"CryptoRelay/internal/handler/api"
	"CryptoRelay/internal/handler/ws"
	mid "CryptoRelay/internal/middleware"
	internalrepo "CryptoRelay/internal/repository"
	"CryptoRelay/internal/service/finnhub"
	"CryptoRelay/internal/service/ratelimit"
	"CryptoRelay/internal/usecase"
	"CryptoRelay/pkg/cache"
	pkgch "CryptoRelay/pkg/clickhouse"
	"CryptoRelay/pkg/config"
	xhttp "CryptoRelay/pkg/http"
	pkgkafka "CryptoRelay/pkg/kafka"
	applogger "CryptoRelay/pkg/logger"
	"CryptoRelay/pkg/metrics"
	"CryptoRelay/pkg/queue"
	"CryptoRelay/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Sinks holds the optional downstream stores. Any field may be nil.
type Sinks struct {
	Kafka      *internalrepo.KafkaEventPublisher
	Snapshots  *internalrepo.CacheSnapshotStore
	Averages   *internalrepo.ClickHouseAverageStore
	ClickHouse *pkgch.Client
}

// List returns the enabled sinks in delivery order.
func (s *Sinks) List() []mid.Sink {
	var out []mid.Sink
	if s.Snapshots != nil {
		out = append(out, s.Snapshots)
	}
	if s.Averages != nil {
		out = append(out, s.Averages)
	}
	if s.Kafka != nil {
		out = append(out, s.Kafka)
	}
	return out
}

// AverageStore returns the persistent average store or a nil interface.
func (s *Sinks) AverageStore() domrepo.AverageStore {
	if s.Averages == nil {
		return nil
	}
	return s.Averages
}

// SnapshotStore returns the shared snapshot cache or a nil interface.
func (s *Sinks) SnapshotStore() domrepo.SnapshotStore {
	if s.Snapshots == nil {
		return nil
	}
	return s.Snapshots
}

// Closers returns what must be closed on shutdown.
func (s *Sinks) Closers() []io.Closer {
	var out []io.Closer
	if s.Snapshots != nil {
		out = append(out, s.Snapshots)
	}
	if s.ClickHouse != nil {
		out = append(out, s.ClickHouse)
	}
	if s.Kafka != nil {
		out = append(out, s.Kafka)
	}
	return out
}

func (s *Sinks) closeAll() error {
	var errs []error
	for _, c := range s.Closers() {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates the Prometheus registry with process and Go collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.NewWithRegisterer(reg)
}

// ProvideAggregationEngine creates the in-memory aggregation state.
func ProvideAggregationEngine(cfg *config.Config, m domrepo.Metrics) *usecase.AggregationEngine {
	return usecase.NewAggregationEngine(cfg.Finnhub.Symbols,
		usecase.WithHistorySize(cfg.Aggregation.HistorySize),
		usecase.WithHourlySlots(cfg.Aggregation.HourlySlots),
		usecase.WithWindow(cfg.Aggregation.Window),
		usecase.WithEngineMetrics(m),
	)
}

// ProvideFinnhubFeed creates the Finnhub WebSocket feed.
func ProvideFinnhubFeed(cfg *config.Config, log *applogger.Logger, m domrepo.Metrics) (domrepo.PriceFeed, error) {
	c, err := finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		finnhub.WithLogger(log),
		finnhub.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("finnhub feed: %w", err)
	}
	return c, nil
}

// ProvideRefreshLimiter returns nil when refresh throttling is disabled.
func ProvideRefreshLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.Downstream.RefreshCapacity <= 0 {
		return nil
	}
	return ratelimit.New(cfg.Downstream.RefreshCapacity, cfg.Downstream.RefreshPerSec)
}

// ProvideHub creates the downstream WebSocket hub.
func ProvideHub(cfg *config.Config, engine *usecase.AggregationEngine, limiter *ratelimit.Limiter, log *applogger.Logger, m domrepo.Metrics) *ws.Hub {
	return ws.NewHub(ws.Config{
		Path:          cfg.Server.WSPath,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		SendBuffer:    cfg.Downstream.SendBuffer,
		WriteTimeout:  cfg.Downstream.WriteTimeout,
		PingInterval:  cfg.Downstream.PingInterval,
	}, engine, limiter, log, m)
}

// ProvideSinks connects the enabled sinks. A sink that fails to connect fails
// startup; already connected sinks are closed.
func ProvideSinks(cfg *config.Config, reg *prometheus.Registry, log *applogger.Logger) (*Sinks, error) {
	s := &Sinks{}

	if rc := cfg.Sinks.Redis; rc.Enabled {
		rcache, err := cache.NewRedisCache(
			cache.WithRedisHost(rc.Host),
			cache.WithRedisPort(rc.Port),
			cache.WithRedisPassword(rc.Password),
			cache.WithRedisDB(rc.DB),
			cache.WithRedisPrefix(rc.Prefix),
			cache.WithRedisTimeouts(rc.Timeout, rc.Timeout, rc.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		s.Snapshots = internalrepo.NewCacheSnapshotStore(rcache, rc.TTL)
		if rc.LogsList != "" && !(cfg.Sinks.Kafka.Enabled && cfg.Sinks.Kafka.LogsTopic != "") {
			pub := queue.NewRedisPublisher(rcache.Client(), queue.WithKeyPrefix(rc.Prefix+":logs"))
			log.AddCollector(&applogger.CollectionConfig{Topic: rc.LogsList, Publisher: pub})
		}
		log.Info("sink enabled", applogger.String("sink", "redis"), applogger.String("host", rc.Host))
	}

	if cc := cfg.Sinks.ClickHouse; cc.Enabled {
		client, err := pkgch.NewClient(
			pkgch.WithHost(cc.Host),
			pkgch.WithPort(cc.Port),
			pkgch.WithDatabase(cc.Database),
			pkgch.WithCredentials(cc.User, cc.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cc.UseHTTP),
			pkgch.WithTimeouts(cc.DialTimeout, cc.ReadTimeout, cc.WriteTimeout),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("clickhouse sink: %w", err), s.closeAll())
		}
		s.ClickHouse = client
		store := internalrepo.NewClickHouseAverageStore(client.DB(), cc.Database)
		store.SetLogger(log)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, store.SchemaStatements()); err != nil {
			return nil, errors.Join(fmt.Errorf("clickhouse schema: %w", err), s.closeAll())
		}
		s.Averages = store
		log.Info("sink enabled", applogger.String("sink", "clickhouse"), applogger.String("database", cc.Database))
	}

	if kc := cfg.Sinks.Kafka; kc.Enabled {
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(kc.Brokers),
			pkgkafka.WithCompression(kc.Compression),
			pkgkafka.WithRequiredAcks(kc.RequiredAcks),
			pkgkafka.WithAsync(kc.Async),
			pkgkafka.WithHashByKey(true),
			pkgkafka.WithRegisterer(reg),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("kafka sink: %w", err), s.closeAll())
		}
		s.Kafka = internalrepo.NewKafkaEventPublisher(producer, kc.TicksTopic, kc.AveragesTopic)
		if kc.LogsTopic != "" {
			log.AddCollector(&applogger.CollectionConfig{Topic: kc.LogsTopic, Publisher: s.Kafka})
		}
		log.Info("sink enabled", applogger.String("sink", "kafka"), applogger.Strings("brokers", kc.Brokers))
	}

	return s, nil
}

// ProvideSinkPipeline creates the non-blocking pipeline in front of the sinks.
func ProvideSinkPipeline(cfg *config.Config, sinks *Sinks, m domrepo.Metrics, log *applogger.Logger) *mid.SinkPipeline {
	return mid.NewSinkPipeline(m, sinks.List(),
		mid.WithBufferSize(cfg.Sinks.BufferSize),
		mid.WithPipelineLogger(log),
	)
}

// ProvideRelay creates the feed relay.
func ProvideRelay(feed domrepo.PriceFeed, engine *usecase.AggregationEngine, hub *ws.Hub, pipe *mid.SinkPipeline, log *applogger.Logger) *usecase.FeedRelay {
	var sinks usecase.EventSink
	if pipe.Len() > 0 {
		sinks = pipe
	}
	return usecase.NewFeedRelay(feed, engine, hub, sinks, log)
}

// ProvidePricesHandler creates the REST handler.
func ProvidePricesHandler(log *applogger.Logger, engine *usecase.AggregationEngine, relay *usecase.FeedRelay, hub *ws.Hub, sinks *Sinks) *api.PricesEchoHandler {
	return api.NewPricesEchoHandler(log, engine, relay, hub, sinks.AverageStore(), sinks.SnapshotStore())
}

// ProvideHTTPServer creates the Echo server carrying REST, WebSocket and metrics routes.
func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, reg *prometheus.Registry, prices *api.PricesEchoHandler, hub *ws.Hub) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Server.AllowedOrigin != "" {
		opts = append(opts, xhttp.WithAllowOrigins(cfg.Server.AllowedOrigin))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg, cfg.Server.WSPath))
	}
	return xhttp.NewServer(log, []xhttp.Handler{prices, hub}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	relay *usecase.FeedRelay,
	hub *ws.Hub,
	pipe *mid.SinkPipeline,
	srv *xhttp.Server,
	sinks *Sinks,
) *server.App {
	c := server.Components{
		Relay:           relay,
		Hub:             hub,
		HTTP:            srv,
		Sinks:           sinks.Closers(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if pipe.Len() > 0 {
		c.Pipeline = pipe
	}
	return server.New(c, log)
}
