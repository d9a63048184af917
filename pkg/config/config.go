package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"CryptoRelay/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// DefaultSymbols is the allowlist used when none is configured.
var DefaultSymbols = []string{
	"BINANCE:ETHUSDC",
	"BINANCE:ETHUSDT",
	"BINANCE:ETHBTC",
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"3001"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		AllowedOrigin   string        `yaml:"allowed_origin" default:"http://localhost:3000"`
		WSPath          string        `yaml:"ws_path" default:"/ws"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Finnhub struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
	Aggregation struct {
		HistorySize int           `yaml:"history_size" default:"10000"`
		HourlySlots int           `yaml:"hourly_slots" default:"24"`
		Window      time.Duration `yaml:"window" default:"1h"`
	} `yaml:"aggregation"`
	Downstream struct {
		SendBuffer      int           `yaml:"send_buffer" default:"256"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		PingInterval    time.Duration `yaml:"ping_interval" default:"30s"`
		RefreshCapacity float64       `yaml:"refresh_capacity" default:"0"`
		RefreshPerSec   float64       `yaml:"refresh_per_sec" default:"0"`
	} `yaml:"downstream"`
	Sinks struct {
		BufferSize int `yaml:"buffer_size" default:"4096"`
		Redis      struct {
			Enabled  bool          `yaml:"enabled"`
			Host     string        `yaml:"host" default:"localhost"`
			Port     int           `yaml:"port" default:"6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix" default:"cryptorelay"`
			TTL      time.Duration `yaml:"ttl" default:"2h"`
			Timeout  time.Duration `yaml:"timeout" default:"3s"`
			LogsList string        `yaml:"logs_list"`
		} `yaml:"redis"`
		Kafka struct {
			Enabled       bool     `yaml:"enabled"`
			Brokers       []string `yaml:"brokers"`
			TicksTopic    string   `yaml:"ticks_topic" default:"cryptorelay.ticks"`
			AveragesTopic string   `yaml:"averages_topic" default:"cryptorelay.hourly_averages"`
			LogsTopic     string   `yaml:"logs_topic"`
			Compression   string   `yaml:"compression" default:"snappy"`
			RequiredAcks  int      `yaml:"required_acks" default:"1"`
			Async         bool     `yaml:"async"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Enabled      bool          `yaml:"enabled"`
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port" default:"9000"`
			Database     string        `yaml:"database" default:"cryptorelay"`
			User         string        `yaml:"user" default:"default"`
			Password     string        `yaml:"password"`
			UseHTTP      bool          `yaml:"use_http"`
			DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"clickhouse"`
	} `yaml:"sinks"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	c.Finnhub.Symbols = append([]string(nil), DefaultSymbols...)
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Finnhub.Symbols) == 0 {
		c.Finnhub.Symbols = append([]string(nil), DefaultSymbols...)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML, applies environment overrides and validates.
// A missing file is not an error; defaults plus environment are used instead.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		c = Default()
	}

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = splitList(v)
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("FRONTEND_URL"); v != "" {
		c.Server.AllowedOrigin = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Sinks.Redis.Host = v
		c.Sinks.Redis.Enabled = true
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Sinks.Kafka.Brokers = splitList(v)
		c.Sinks.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.Sinks.ClickHouse.Host = v
		c.Sinks.ClickHouse.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Finnhub.Symbols) == 0 {
		return fmt.Errorf("finnhub.symbols cannot be empty")
	}
	if c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required (set FINNHUB_API_KEY)")
	}
	if c.Finnhub.WebSocketURL == "" {
		return fmt.Errorf("finnhub.websocket_url is required")
	}
	if c.Aggregation.HistorySize <= 0 {
		return fmt.Errorf("aggregation.history_size must be positive, got %d", c.Aggregation.HistorySize)
	}
	if c.Aggregation.HourlySlots <= 0 {
		return fmt.Errorf("aggregation.hourly_slots must be positive, got %d", c.Aggregation.HourlySlots)
	}
	if c.Aggregation.Window <= 0 {
		return fmt.Errorf("aggregation.window must be positive")
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Host == "" {
		return fmt.Errorf("sinks.redis.host is required when redis is enabled")
	}
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		return fmt.Errorf("sinks.kafka.brokers is required when kafka is enabled")
	}
	if c.Sinks.ClickHouse.Enabled && c.Sinks.ClickHouse.Host == "" {
		return fmt.Errorf("sinks.clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
