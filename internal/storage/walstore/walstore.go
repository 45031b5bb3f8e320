// Package walstore persists state in a write-ahead log. The log is replayed into
// an in-memory index on open; reads never touch disk.
package walstore

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/storage/memstore"
)

const (
	DefaultDir       = "./wal/auction"
	segmentThreshold = 1000
	maxSegments      = 100

	// retained keys live in their own log under dir; zero segments means no cap.
	ledgerSubdir      = "ledger"
	ledgerMaxSegments = 0

	opPut    = "put"
	opAppend = "app"
	opField  = "hset"
	sep      = "|"
)

// Backend gowal-backed storage.Backend.
// Market state goes to a capped log that drops its oldest segments; keys
// reported by storage.Retained go to an uncapped ledger log.
type Backend struct {
	mu     sync.Mutex
	state  *gowal.Wal
	ledger *gowal.Wal
	index  *memstore.Backend
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend opens (or creates) both logs in dir and replays them.
func NewBackend(l *zap.Logger, dir string) (*Backend, error) {
	if dir == "" {
		dir = DefaultDir
	}

	state, err := openLog(dir, "state_", maxSegments)
	if err != nil {
		return nil, errors.Wrap(err, "init state WAL")
	}
	ledger, err := openLog(filepath.Join(dir, ledgerSubdir), "ledger_", ledgerMaxSegments)
	if err != nil {
		_ = state.Close()
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	b := &Backend{state: state, ledger: ledger, index: memstore.NewBackend()}

	// ledger replays last so it wins over safety records written by older versions to the state log
	replayed := b.replay(l, state) + b.replay(l, ledger)
	l.Info("state WAL replayed", zap.String("dir", dir), zap.Int("records", replayed))

	return b, nil
}

// New opens a JSON store over a WAL backend.
func New(l *zap.Logger, dir string) (*storage.JSONStore, error) {
	b, err := NewBackend(l, dir)
	if err != nil {
		return nil, err
	}
	return storage.NewJSONStore(b), nil
}

func openLog(dir, prefix string, segments int) (*gowal.Wal, error) {
	return gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           prefix,
		SegmentThreshold: segmentThreshold,
		MaxSegments:      segments,
		IsInSyncDiskMode: true,
	})
}

func (b *Backend) replay(l *zap.Logger, wal *gowal.Wal) int {
	var n int
	for msg := range wal.Iterator() {
		if err := b.apply(msg.Key, msg.Value); err != nil {
			l.Error("skip malformed WAL record", zap.String("key", msg.Key), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func (b *Backend) logFor(key string) *gowal.Wal {
	if storage.Retained(key) {
		return b.ledger
	}
	return b.state
}

func (b *Backend) apply(walKey string, value []byte) error {
	ctx := context.Background()
	parts := strings.SplitN(walKey, sep, 3)

	switch parts[0] {
	case opPut:
		if len(parts) < 2 {
			return errors.New("put record without key")
		}
		return b.index.Put(ctx, strings.Join(parts[1:], sep), value)
	case opAppend:
		if len(parts) != 3 {
			return errors.New("append record without limit")
		}
		limit, err := strconv.Atoi(parts[1])
		if err != nil {
			return errors.Wrap(err, "parse append limit")
		}
		return b.index.Append(ctx, parts[2], value, limit)
	case opField:
		if len(parts) != 3 {
			return errors.New("field record without field")
		}
		return b.index.PutField(ctx, parts[1], parts[2], value)
	default:
		return errors.Errorf("unknown WAL op %q", parts[0])
	}
}

func (b *Backend) write(wal *gowal.Wal, walKey string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	nextIndex := wal.CurrentIndex() + 1
	if err := wal.Write(nextIndex, walKey, value); err != nil {
		return errors.Wrapf(err, "write WAL record %s", walKey)
	}
	return b.apply(walKey, value)
}

func (b *Backend) Put(_ context.Context, key string, value []byte) error {
	return b.write(b.logFor(key), opPut+sep+key, value)
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	return b.index.Get(ctx, key)
}

func (b *Backend) Append(_ context.Context, key string, value []byte, limit int) error {
	return b.write(b.logFor(key), opAppend+sep+strconv.Itoa(limit)+sep+key, value)
}

func (b *Backend) Range(ctx context.Context, key string, n int) ([][]byte, error) {
	return b.index.Range(ctx, key, n)
}

func (b *Backend) PutField(_ context.Context, key, field string, value []byte) error {
	if strings.Contains(key, sep) {
		return errors.Errorf("key %q must not contain %q", key, sep)
	}
	return b.write(b.logFor(key), opField+sep+key+sep+field, value)
}

func (b *Backend) Fields(ctx context.Context, key string) (map[string][]byte, error) {
	return b.index.Fields(ctx, key)
}

// Durable is always true.
func (b *Backend) Durable() bool { return true }

// Close closes both logs.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stateErr := b.state.Close()
	if err := b.ledger.Close(); err != nil {
		return errors.Wrap(err, "close ledger WAL")
	}
	return errors.Wrap(stateErr, "close state WAL")
}
