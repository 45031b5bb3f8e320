package internal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/config"
	"github.com/vadiminshakov/auction/internal/services/market/feed"
	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/storage/memstore"
	"github.com/vadiminshakov/auction/internal/storage/redisstore"
	"github.com/vadiminshakov/auction/internal/storage/walstore"
)

// NewStore opens the state store selected by the config.
// This is the single point of truth for dispatching to store implementations.
func NewStore(ctx context.Context, logger *zap.Logger, conf config.Config) (*storage.JSONStore, error) {
	switch conf.Store {
	case config.StoreWAL:
		s, err := walstore.New(logger, conf.WALDir)
		return s, errors.Wrap(err, "failed to open wal store")
	case config.StoreRedis:
		s, err := redisstore.New(ctx, logger, conf.RedisAddr,
			redisstore.WithPassword(conf.RedisPassword),
			redisstore.WithDB(conf.RedisDB),
			redisstore.WithPrefix(conf.RedisPrefix))
		return s, errors.Wrap(err, "failed to open redis store")
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart and orders cannot be submitted")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", conf.Store)
	}
}

// NewSource creates the market event source selected by the config.
// The returned closer releases the underlying input.
func NewSource(logger *zap.Logger, conf config.Config) (feed.Source, io.Closer, error) {
	switch conf.Feed {
	case config.FeedReplay:
		if conf.ReplayPath == "" {
			return feed.NewReplay(logger, os.Stdin, conf.ReplayDelay), io.NopCloser(os.Stdin), nil
		}
		f, err := os.Open(conf.ReplayPath)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open replay file %s", conf.ReplayPath)
		}
		return feed.NewReplay(logger, f, conf.ReplayDelay), f, nil
	case config.FeedKafka:
		k, err := feed.NewKafka(logger, feed.KafkaConfig{
			Brokers: conf.KafkaBrokers,
			Topic:   conf.KafkaTopic,
			GroupID: conf.KafkaGroup,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create kafka source")
		}
		return k, k, nil
	default:
		return nil, nil, fmt.Errorf("unsupported feed: %s", conf.Feed)
	}
}
