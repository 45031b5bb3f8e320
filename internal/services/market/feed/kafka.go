package feed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/pkg/retrier"
)

// KafkaConfig consumer settings of the market event topic.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Kafka consumes market events from one topic. A single reader keeps partition
// order, which the profile engine relies on.
type Kafka struct {
	logger *zap.Logger
	reader *kafka.Reader
	commit *retrier.Retrier
}

// NewKafka creates a consumer-group reader.
func NewKafka(logger *zap.Logger, cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "auction"
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
	})

	l := logger.With(zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID))
	return &Kafka{
		logger: l,
		reader: reader,
		commit: retrier.New(retrier.FeedCommit,
			retrier.WithRetryIf(retryableCommit),
			retrier.WithOnRetry(func(attempt int, err error) {
				l.Warn("offset commit failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			}),
		),
	}, nil
}

// Run fetches, forwards and commits messages until ctx is done.
func (s *Kafka) Run(ctx context.Context, out chan<- domain.MarketEvent) error {
	s.logger.Info("kafka market feed started")
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch kafka message")
		}

		ev, err := Decode(m.Value)
		if err != nil {
			s.logger.Warn("skip malformed event",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		} else if err := send(ctx, out, ev); err != nil {
			return err
		}

		err = s.commit.Do(ctx, func(ctx context.Context) error {
			return s.reader.CommitMessages(ctx, m)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "commit offset %d", m.Offset)
		}
	}
}

// retryableCommit reports whether a commit failure may succeed on retry.
func retryableCommit(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	return true
}

// Close closes the reader.
func (s *Kafka) Close() error {
	return s.reader.Close()
}
