package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	StoreWAL    = "wal"
	StoreRedis  = "redis"
	StoreMemory = "memory"

	FeedReplay = "replay"
	FeedKafka  = "kafka"
)

type Config struct {
	Symbol      string
	TickSize    float64
	AutoTrading bool
	LogLevel    string
	MetricsAddr string

	Debounce        time.Duration
	Quantity        int
	RegimeThreshold float64
	LevelTolerance  float64
	StopBuffer      float64
	// ProfileFromBars builds the session profile from footprint bars when the feed carries no trades.
	ProfileFromBars bool

	Safety domain.SafetyConfig

	Store         string
	WALDir        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Feed         string
	ReplayPath   string
	ReplayDelay  time.Duration
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	BridgePollInterval time.Duration
	MaxSlippage        float64
	PointValue         decimal.Decimal

	OrderSweepInterval time.Duration
	OrderMaxAge        time.Duration
}

type ConfigTmp struct {
	Symbol      string  `yaml:"symbol"`
	TickSize    float64 `yaml:"tick_size,omitempty"`
	AutoTrading bool    `yaml:"auto_trading"`
	LogLevel    string  `yaml:"log_level,omitempty"`
	MetricsAddr string  `yaml:"metrics_addr,omitempty"`

	Debounce        time.Duration `yaml:"debounce,omitempty"`
	Quantity        int           `yaml:"quantity,omitempty"`
	RegimeThreshold float64       `yaml:"regime_threshold,omitempty"`
	LevelTolerance  float64       `yaml:"level_tolerance,omitempty"`
	StopBuffer      float64       `yaml:"stop_buffer,omitempty"`
	ProfileFromBars bool          `yaml:"profile_from_bars,omitempty"`

	MaxDailyDrawdownStr           string `yaml:"max_daily_drawdown,omitempty"`
	MaxPositionSize               int    `yaml:"max_position_size,omitempty"`
	TradingFenceEnabled           *bool  `yaml:"trading_fence_enabled,omitempty"`
	CircuitBreakerEnabled         *bool  `yaml:"circuit_breaker_enabled,omitempty"`
	PositionReconciliationEnabled *bool  `yaml:"position_reconciliation_enabled,omitempty"`
	RejectCooldownMinutes         *int   `yaml:"reject_cooldown_minutes,omitempty"`

	Store         string `yaml:"store,omitempty"`
	WALDir        string `yaml:"wal_dir,omitempty"`
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	RedisPrefix   string `yaml:"redis_prefix,omitempty"`

	Feed         string        `yaml:"feed,omitempty"`
	ReplayPath   string        `yaml:"replay_path,omitempty"`
	ReplayDelay  time.Duration `yaml:"replay_delay,omitempty"`
	KafkaBrokers []string      `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string        `yaml:"kafka_topic,omitempty"`
	KafkaGroup   string        `yaml:"kafka_group,omitempty"`

	BridgePollInterval time.Duration `yaml:"bridge_poll_interval,omitempty"`
	MaxSlippage        float64       `yaml:"max_slippage,omitempty"`
	PointValueStr      string        `yaml:"point_value,omitempty"`

	OrderSweepInterval time.Duration `yaml:"order_sweep_interval,omitempty"`
	OrderMaxAge        time.Duration `yaml:"order_max_age,omitempty"`
}

// Default returns a config with every field at its production default.
func Default() Config {
	return Config{
		Symbol:             "ES",
		TickSize:           0.25,
		LogLevel:           "info",
		MetricsAddr:        ":9090",
		Debounce:           time.Second,
		Quantity:           1,
		RegimeThreshold:    50,
		LevelTolerance:     2,
		StopBuffer:         2,
		Safety:             domain.DefaultSafetyConfig(),
		Store:              StoreWAL,
		WALDir:             "./wal/auction",
		RedisPrefix:        "auction",
		Feed:               FeedReplay,
		KafkaGroup:         "auction",
		BridgePollInterval: time.Second,
		MaxSlippage:        4,
		PointValue:         decimal.NewFromInt(50),
		OrderSweepInterval: time.Minute,
		OrderMaxAge:        5 * time.Minute,
	}
}

// Get reads the config from the file given by --config, or from CLI flags.
func Get() (Config, error) {
	return Parse(os.Args[1:])
}

// Parse is Get over explicit arguments.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("auction", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	cli := bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var (
		c   Config
		err error
	)
	if *path != "" {
		c, err = getYaml(*path)
	} else {
		c, err = cli.config()
	}
	if err != nil {
		return Config{}, err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return fromYaml(f)
}

func fromYaml(raw []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, err
	}

	c := Default()
	if tmp.Symbol != "" {
		c.Symbol = tmp.Symbol
	}
	if tmp.TickSize > 0 {
		c.TickSize = tmp.TickSize
	}
	c.AutoTrading = tmp.AutoTrading
	if tmp.LogLevel != "" {
		c.LogLevel = tmp.LogLevel
	}
	if tmp.MetricsAddr != "" {
		c.MetricsAddr = tmp.MetricsAddr
	}
	if tmp.Debounce > 0 {
		c.Debounce = tmp.Debounce
	}
	if tmp.Quantity > 0 {
		c.Quantity = tmp.Quantity
	}
	if tmp.RegimeThreshold > 0 {
		c.RegimeThreshold = tmp.RegimeThreshold
	}
	if tmp.LevelTolerance > 0 {
		c.LevelTolerance = tmp.LevelTolerance
	}
	if tmp.StopBuffer > 0 {
		c.StopBuffer = tmp.StopBuffer
	}
	c.ProfileFromBars = tmp.ProfileFromBars

	if tmp.MaxDailyDrawdownStr != "" {
		dd, err := decimal.NewFromString(tmp.MaxDailyDrawdownStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'max_daily_drawdown' param in yaml config (must be a decimal), error: %w", err)
		}
		c.Safety.MaxDailyDrawdown = dd
	}
	if tmp.MaxPositionSize > 0 {
		c.Safety.MaxPositionSize = tmp.MaxPositionSize
	}
	if tmp.TradingFenceEnabled != nil {
		c.Safety.TradingFenceEnabled = *tmp.TradingFenceEnabled
	}
	if tmp.CircuitBreakerEnabled != nil {
		c.Safety.CircuitBreakerEnabled = *tmp.CircuitBreakerEnabled
	}
	if tmp.PositionReconciliationEnabled != nil {
		c.Safety.PositionReconciliationEnabled = *tmp.PositionReconciliationEnabled
	}
	if tmp.RejectCooldownMinutes != nil {
		c.Safety.RejectCooldownMinutes = *tmp.RejectCooldownMinutes
	}

	if tmp.Store != "" {
		c.Store = tmp.Store
	}
	if tmp.WALDir != "" {
		c.WALDir = tmp.WALDir
	}
	c.RedisAddr = tmp.RedisAddr
	c.RedisPassword = tmp.RedisPassword
	c.RedisDB = tmp.RedisDB
	if tmp.RedisPrefix != "" {
		c.RedisPrefix = tmp.RedisPrefix
	}

	if tmp.Feed != "" {
		c.Feed = tmp.Feed
	}
	c.ReplayPath = tmp.ReplayPath
	c.ReplayDelay = tmp.ReplayDelay
	c.KafkaBrokers = tmp.KafkaBrokers
	c.KafkaTopic = tmp.KafkaTopic
	if tmp.KafkaGroup != "" {
		c.KafkaGroup = tmp.KafkaGroup
	}

	if tmp.BridgePollInterval > 0 {
		c.BridgePollInterval = tmp.BridgePollInterval
	}
	if tmp.MaxSlippage > 0 {
		c.MaxSlippage = tmp.MaxSlippage
	}
	if tmp.PointValueStr != "" {
		pv, err := decimal.NewFromString(tmp.PointValueStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'point_value' param in yaml config (must be a decimal), error: %w", err)
		}
		c.PointValue = pv
	}

	if tmp.OrderSweepInterval > 0 {
		c.OrderSweepInterval = tmp.OrderSweepInterval
	}
	if tmp.OrderMaxAge > 0 {
		c.OrderMaxAge = tmp.OrderMaxAge
	}

	return c, nil
}

// Validate checks the config for values the process cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive, got %v", c.TickSize)
	}
	if c.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", c.Quantity)
	}
	if c.Quantity > c.Safety.MaxPositionSize {
		return fmt.Errorf("quantity %d exceeds max position size %d", c.Quantity, c.Safety.MaxPositionSize)
	}
	if err := c.Safety.Validate(); err != nil {
		return err
	}
	if !c.PointValue.IsPositive() {
		return fmt.Errorf("point value must be positive, got %s", c.PointValue.String())
	}

	switch c.Store {
	case StoreWAL:
		if c.WALDir == "" {
			return fmt.Errorf("wal_dir is required for the wal store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	case StoreMemory:
		if c.AutoTrading {
			return fmt.Errorf("auto trading requires a durable store, got %q", c.Store)
		}
	default:
		return fmt.Errorf("unsupported store: %s", c.Store)
	}

	switch c.Feed {
	case FeedReplay:
	case FeedKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("kafka_brokers and kafka_topic are required for the kafka feed")
		}
	default:
		return fmt.Errorf("unsupported feed: %s", c.Feed)
	}

	return nil
}
