package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type cliFlags struct {
	symbol      *string
	autoTrading *bool
	logLevel    *string
	metricsAddr *string
	debounce    *time.Duration
	quantity    *int
	drawdown    *string
	maxPosition *int
	store       *string
	walDir      *string
	redisAddr   *string
	feed        *string
	replayPath  *string
	kafka       *string
	kafkaTopic  *string
}

func bindFlags(fs *flag.FlagSet) *cliFlags {
	def := Default()
	return &cliFlags{
		symbol:      fs.String("symbol", def.Symbol, "traded futures symbol, example: ES"),
		autoTrading: fs.Bool("autotrading", false, "submit orders automatically"),
		logLevel:    fs.String("loglevel", def.LogLevel, "log level: debug or info"),
		metricsAddr: fs.String("metricsaddr", def.MetricsAddr, "address of the prometheus /metrics endpoint"),
		debounce:    fs.Duration("debounce", def.Debounce, "market update debounce before an analysis cycle"),
		quantity:    fs.Int("quantity", def.Quantity, "contracts per order"),
		drawdown:    fs.String("maxdrawdown", def.Safety.MaxDailyDrawdown.String(), "daily P&L floor that trips the circuit breaker, example: -500"),
		maxPosition: fs.Int("maxposition", def.Safety.MaxPositionSize, "max open contracts"),
		store:       fs.String("store", def.Store, "state store: wal, redis or memory"),
		walDir:      fs.String("waldir", def.WALDir, "wal directory"),
		redisAddr:   fs.String("redisaddr", "", "redis address, example: localhost:6379"),
		feed:        fs.String("feed", def.Feed, "market event source: replay or kafka"),
		replayPath:  fs.String("replay", "", "newline delimited JSON events, stdin when empty"),
		kafka:       fs.String("kafkabrokers", "", "comma separated kafka brokers"),
		kafkaTopic:  fs.String("kafkatopic", "", "kafka topic with market events"),
	}
}

func (f *cliFlags) config() (Config, error) {
	c := Default()
	c.Symbol = *f.symbol
	c.AutoTrading = *f.autoTrading
	c.LogLevel = *f.logLevel
	c.MetricsAddr = *f.metricsAddr
	c.Debounce = *f.debounce
	c.Quantity = *f.quantity

	dd, err := decimal.NewFromString(*f.drawdown)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --maxdrawdown provided, --maxdrawdown=%s", *f.drawdown)
	}
	c.Safety.MaxDailyDrawdown = dd
	c.Safety.MaxPositionSize = *f.maxPosition

	c.Store = *f.store
	c.WALDir = *f.walDir
	c.RedisAddr = *f.redisAddr
	c.Feed = *f.feed
	c.ReplayPath = *f.replayPath
	if *f.kafka != "" {
		c.KafkaBrokers = strings.Split(*f.kafka, ",")
	}
	c.KafkaTopic = *f.kafkaTopic

	return c, nil
}
