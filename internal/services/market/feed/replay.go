package feed

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
)

const maxLineSize = 1 << 20

// Replay reads newline delimited JSON events, e.g. a recorded session.
type Replay struct {
	logger *zap.Logger
	r      io.Reader
	// delay between events, zero replays as fast as the consumer reads.
	delay time.Duration
}

// NewReplay creates a replay source over r.
func NewReplay(logger *zap.Logger, r io.Reader, delay time.Duration) *Replay {
	return &Replay{logger: logger, r: r, delay: delay}
}

// Run pushes every decodable line; malformed lines are logged and skipped.
func (s *Replay) Run(ctx context.Context, out chan<- domain.MarketEvent) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var line, sent int
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		ev, err := Decode(raw)
		if err != nil {
			s.logger.Warn("skip malformed event", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := send(ctx, out, ev); err != nil {
			return err
		}
		sent++

		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read events at line %d", line)
	}

	s.logger.Info("replay finished", zap.Int("events", sent))
	return nil
}
