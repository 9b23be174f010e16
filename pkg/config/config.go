package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"MarketCascade/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
		Audit  struct {
			Enabled        bool          `yaml:"enabled" default:"true"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"audit"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// Dashboard origins allowed by CORS; empty disables CORS.
		CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit   struct {
			RPS   float64 `yaml:"rps" default:"5"`
			Burst int     `yaml:"burst" default:"10"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		// memory | postgres: tiers, suggestions, signals, trade ledger
		Backend string `yaml:"backend" default:"memory"`
		// memory | clickhouse: append-only layer snapshots
		Snapshots string `yaml:"snapshots" default:"memory"`
		// latest-snapshot read-through cache
		CacheTTL time.Duration `yaml:"cache_ttl" default:"30s"`
		// in-process layer; with redis it only fronts the shared cache
		LocalCacheSize int           `yaml:"local_cache_size" default:"1000"`
		LocalCacheTTL  time.Duration `yaml:"local_cache_ttl" default:"5s"`
	} `yaml:"storage"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
		QueryTimeout    time.Duration `yaml:"query_timeout" default:"5s"`
		AutoMigrate     bool          `yaml:"auto_migrate" default:"true"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"cascade"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"cascade"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		// Queue runs position rebuilds as background jobs.
		Queue struct {
			Enabled    bool          `yaml:"enabled" default:"true"`
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"queue"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Macro   string `yaml:"macro" default:"cascade.ingest.macro"`
			Sectors string `yaml:"sectors" default:"cascade.ingest.sectors"`
			Assets  string `yaml:"assets" default:"cascade.ingest.assets"`
			Bars    string `yaml:"bars" default:"cascade.ingest.bars"`
			Signals string `yaml:"signals" default:"cascade.signals"`
			Audit   string `yaml:"audit" default:"cascade.audit"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"market-cascade"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"cascade.ingest.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
		Breaker struct {
			MaxRequests  uint32        `yaml:"max_requests" default:"1"`
			Interval     time.Duration `yaml:"interval" default:"1m"`
			Timeout      time.Duration `yaml:"timeout" default:"30s"`
			FailureRatio float64       `yaml:"failure_ratio" default:"0.6"`
			MinRequests  uint32        `yaml:"min_requests" default:"5"`
		} `yaml:"breaker"`
	} `yaml:"kafka"`
	Cascade Cascade `yaml:"cascade"`
}

// Pass schedules one cascade layer.
type Pass struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Cascade struct {
	Passes struct {
		Macro     Pass `yaml:"macro"`
		Sector    Pass `yaml:"sector"`
		Watchlist Pass `yaml:"watchlist"`
		Signals   Pass `yaml:"signals"`
		Expiry    Pass `yaml:"expiry"`
	} `yaml:"passes"`
	// DistributedLock makes a pass single-writer across replicas (requires redis).
	DistributedLock bool `yaml:"distributed_lock"`
	Freshness       struct {
		Regime time.Duration `yaml:"regime" default:"15m"`
		Sector time.Duration `yaml:"sector" default:"2h"`
		Bars   time.Duration `yaml:"bars" default:"5m"`
	} `yaml:"freshness"`
	Regime struct {
		Window           int                `yaml:"window" default:"12"`
		HysteresisMargin float64            `yaml:"hysteresis_margin" default:"0.05"`
		PersistenceBoost float64            `yaml:"persistence_boost" default:"0.5"`
		VolatileEnter    float64            `yaml:"volatile_enter" default:"1.0"`
		VolatileMargin   float64            `yaml:"volatile_margin" default:"0.1"`
		Weights          map[string]float64 `yaml:"weights"`
		Scales           map[string]float64 `yaml:"scales"`
	} `yaml:"regime"`
	Sector struct {
		LeadThreshold         float64 `yaml:"lead_threshold" default:"0.05"`
		BullConfirmConfidence float64 `yaml:"bull_confirm_confidence" default:"0.6"`
	} `yaml:"sector"`
	Watchlist struct {
		Contexts           []string      `yaml:"contexts"`
		Tier1Capacity      int           `yaml:"tier1_capacity" default:"15"`
		Tier2Capacity      int           `yaml:"tier2_capacity" default:"150"`
		AutoDiscovery      bool          `yaml:"auto_discovery" default:"true"`
		DiscoveryThreshold float64       `yaml:"discovery_threshold" default:"0.6"`
		PromoteThreshold   float64       `yaml:"promote_threshold" default:"0.7"`
		DemoteThreshold    float64       `yaml:"demote_threshold" default:"0.4"`
		RemoveThreshold    float64       `yaml:"remove_threshold" default:"0.2"`
		VolumeSpikeWeight  float64       `yaml:"volume_spike_weight" default:"0.5"`
		LeadershipWeight   float64       `yaml:"leadership_weight" default:"0.35"`
		DevActivityWeight  float64       `yaml:"dev_activity_weight" default:"0.15"`
		SpikeCap           float64       `yaml:"spike_cap" default:"5"`
		DevActivityCap     float64       `yaml:"dev_activity_cap" default:"1"`
		SuggestionTTL      time.Duration `yaml:"suggestion_ttl" default:"72h"`
	} `yaml:"watchlist"`
	Signals struct {
		ListContext      string        `yaml:"list_context" default:"global"`
		MomentumLookback int           `yaml:"momentum_lookback" default:"12"`
		MinMomentum      float64       `yaml:"min_momentum" default:"0.005"`
		ATRPeriod        int           `yaml:"atr_period" default:"14"`
		ATRMultiple      float64       `yaml:"atr_multiple" default:"1.5"`
		TargetRR         float64       `yaml:"target_rr" default:"2.0"`
		MinRR            float64       `yaml:"min_rr" default:"1.5"`
		TTL              time.Duration `yaml:"ttl" default:"30m"`
	} `yaml:"signals"`
}

// Load reads and parses a YAML configuration file. Defaults are applied first so
// the file only needs to carry overrides.
func Load(path string) (*Config, error) {
	c, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// FromEnv builds a configuration from defaults and environment variables when
// no config file is available.
func FromEnv() (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Default returns a configuration populated from struct tags only.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.fillPassDefaults()
	return &c, nil
}

func decodeFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fillPassDefaults()
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("CASCADE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("SNAPSHOT_BACKEND"); v != "" {
		c.Storage.Snapshots = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// fillPassDefaults sets per-layer schedules: macro 5m, sector hourly, watchlist 1m,
// signals near-real-time, expiry sweep 30s. A pass timeout defaults to its period.
func (c *Config) fillPassDefaults() {
	set := func(p *Pass, schedule string, timeout time.Duration) {
		if p.Schedule == "" {
			p.Schedule = schedule
		}
		if p.Timeout <= 0 {
			p.Timeout = timeout
		}
	}
	set(&c.Cascade.Passes.Macro, "@every 5m", 5*time.Minute)
	set(&c.Cascade.Passes.Sector, "@every 1h", time.Hour)
	set(&c.Cascade.Passes.Watchlist, "@every 1m", time.Minute)
	set(&c.Cascade.Passes.Signals, "@every 15s", 15*time.Second)
	set(&c.Cascade.Passes.Expiry, "@every 30s", 30*time.Second)

	if len(c.Cascade.Watchlist.Contexts) == 0 {
		c.Cascade.Watchlist.Contexts = []string{"global"}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when storage.backend is 'postgres'")
		}
	default:
		return fmt.Errorf("storage.backend must be 'memory' or 'postgres', got '%s'", c.Storage.Backend)
	}
	switch c.Storage.Snapshots {
	case "memory":
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required when storage.snapshots is 'clickhouse'")
		}
	default:
		return fmt.Errorf("storage.snapshots must be 'memory' or 'clickhouse', got '%s'", c.Storage.Snapshots)
	}
	if c.Cascade.DistributedLock && !c.Redis.Enabled {
		return fmt.Errorf("cascade.distributed_lock requires redis.enabled")
	}

	w := c.Cascade.Watchlist
	if w.Tier1Capacity <= 0 || w.Tier2Capacity <= 0 {
		return fmt.Errorf("watchlist capacities must be positive")
	}
	if w.Tier1Capacity > w.Tier2Capacity {
		return fmt.Errorf("watchlist.tier1_capacity (%d) exceeds tier2_capacity (%d)", w.Tier1Capacity, w.Tier2Capacity)
	}
	if !(w.RemoveThreshold <= w.DemoteThreshold && w.DemoteThreshold < w.PromoteThreshold) {
		return fmt.Errorf("watchlist thresholds must satisfy remove <= demote < promote")
	}

	s := c.Cascade.Signals
	if s.MinRR <= 0 {
		return fmt.Errorf("signals.min_rr must be positive")
	}
	if s.ATRPeriod <= 0 || s.MomentumLookback <= 0 {
		return fmt.Errorf("signals.atr_period and signals.momentum_lookback must be positive")
	}
	if s.ATRMultiple <= 0 {
		return fmt.Errorf("signals.atr_multiple must be positive")
	}
	if c.Cascade.Regime.HysteresisMargin < 0 {
		return fmt.Errorf("regime.hysteresis_margin cannot be negative")
	}
	return nil
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
