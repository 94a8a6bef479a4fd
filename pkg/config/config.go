package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"BetPull/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"betpull.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Source struct {
		// Type selects where snapshots come from.
		Type string `yaml:"type" default:"kafka" validate:"oneof=kafka websocket"`
	} `yaml:"source"`
	Kafka struct {
		Brokers          []string `yaml:"brokers"`
		SnapshotTopic    string   `yaml:"snapshot_topic" default:"betpull.snapshots"`
		OrderTopic       string   `yaml:"order_topic" default:"betpull.orders"`
		OrderUpdateTopic string   `yaml:"order_update_topic" default:"betpull.order_updates"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"50"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"betpull"`
			Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"256" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Stream struct {
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		MarketIDs      []string      `yaml:"market_ids"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"stream"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"betpull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		Compression      string        `yaml:"compression" default:"lz4" validate:"oneof=none lz4 zstd"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5" validate:"gte=0"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"betpull"`
		OrderTTL time.Duration `yaml:"order_ttl" default:"168h"`

		PoolSize     int `yaml:"pool_size" default:"10" validate:"gte=1"`
		MinIdleConns int `yaml:"min_idle_conns" default:"2"`

		// RetryQueue defers failed ClickHouse saves to a Redis work queue.
		RetryQueue struct {
			Enabled    bool          `yaml:"enabled"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			RetryLimit int           `yaml:"retry_limit" default:"5"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		} `yaml:"retry_queue"`
	} `yaml:"redis"`
	// MemoryCache backs the order log when Redis is disabled.
	MemoryCache struct {
		MaxKeys         int           `yaml:"max_keys" default:"100000"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
	} `yaml:"memory_cache"`
	Engine struct {
		Shards          int           `yaml:"shards" default:"8" validate:"gte=1"`
		QueueSize       int           `yaml:"queue_size" default:"1024" validate:"gte=1"`
		FeatureConfig   string        `yaml:"feature_config" default:"config/features.yaml"`
		FeatureStart    time.Duration `yaml:"feature_start" default:"10m"`
		TradeAllowed    time.Duration `yaml:"trade_allowed" default:"2m"`
		Cutoff          time.Duration `yaml:"cutoff" default:"10s"`
		PersistTimeout  time.Duration `yaml:"persist_timeout" default:"10s"`
		ClosedRetention time.Duration `yaml:"closed_retention" default:"10m"`
		SweepInterval   time.Duration `yaml:"sweep_interval" default:"30s"`

		// MaxRate caps snapshots per market per second of market time; 0 disables throttling.
		MaxRate int `yaml:"max_rate" default:"0" validate:"gte=0"`
	} `yaml:"engine"`
	Trading struct {
		Enabled bool `yaml:"enabled"`
		// Paper fills orders locally instead of publishing them.
		Paper         bool    `yaml:"paper" default:"true"`
		PaperFillRate float64 `yaml:"paper_fill_rate" default:"1" validate:"gt=0,lte=1"`
		Strategy      struct {
			Type         string  `yaml:"type" default:"threshold" validate:"oneof=threshold"`
			FeatureID    string  `yaml:"feature_id"`
			Operator     string  `yaml:"operator" default:"gt" validate:"oneof=gt lt"`
			Threshold    float64 `yaml:"threshold"`
			Side         string  `yaml:"side" default:"BACK" validate:"oneof=BACK LAY"`
			Stake        float64 `yaml:"stake" default:"2" validate:"gt=0"`
			ExitOnRevert bool    `yaml:"exit_on_revert"`
		} `yaml:"strategy"`
		Hold           time.Duration `yaml:"hold" default:"30s"`
		OpenTimeout    time.Duration `yaml:"open_timeout" default:"10s"`
		HedgeTimeout   time.Duration `yaml:"hedge_timeout" default:"5s"`
		PendingTimeout time.Duration `yaml:"pending_timeout" default:"10s"`
		MinHedgeSize   float64       `yaml:"min_hedge_size" default:"0.01"`

		// OrdersPerSecond limits intents per market.
		OrdersPerSecond float64 `yaml:"orders_per_second" default:"5" validate:"gt=0"`
		Burst           int     `yaml:"burst" default:"10" validate:"gte=1"`
	} `yaml:"trading"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Struct defaults are applied first.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithEnv is Load with environment variable overrides applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	return load(path, os.Getenv)
}

// Parse decodes and validates YAML configuration.
func Parse(b []byte) (*Config, error) {
	return parse(b, nil)
}

func load(path string, getenv func(string) string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, getenv)
}

func parse(b []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if getenv != nil {
		c.applyEnv(getenv)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("SNAPSHOT_SOURCE"); v != "" {
		c.Source.Type = v
	}
	if v := getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := getenv("STREAM_TOKEN"); v != "" {
		c.Stream.Token = v
	}
	if v := getenv("MARKET_IDS"); v != "" {
		c.Stream.MarketIDs = util.SplitList(v)
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("FEATURE_CONFIG"); v != "" {
		c.Engine.FeatureConfig = v
	}
}

// Validate checks tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Source.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required for the kafka source")
	}
	if c.Source.Type == "websocket" && c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required for the websocket source")
	}
	if c.Trading.Enabled && c.Trading.Strategy.FeatureID == "" {
		return fmt.Errorf("trading.strategy.feature_id is required when trading is enabled")
	}
	if c.Trading.Enabled && !c.Trading.Paper && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required for live order routing")
	}
	if c.Engine.Cutoff > c.Engine.TradeAllowed {
		return fmt.Errorf("engine.cutoff (%s) must not exceed engine.trade_allowed (%s)", c.Engine.Cutoff, c.Engine.TradeAllowed)
	}
	if c.Engine.TradeAllowed > c.Engine.FeatureStart {
		return fmt.Errorf("engine.trade_allowed (%s) must not exceed engine.feature_start (%s)", c.Engine.TradeAllowed, c.Engine.FeatureStart)
	}
	return nil
}
