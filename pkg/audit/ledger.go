package audit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var keyPrefix = []byte("audit/")

// LedgerConfig configures the badger-backed ledger.
type LedgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps the ledger in RAM. Useful for tests.
	InMemory bool
	// SyncWrites fsyncs every append.
	SyncWrites bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Ledger is a durable, append-only Sink stored in BadgerDB under
// "audit/<sequence big-endian>" so iteration order is sequence order.
type Ledger struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenLedger opens (creating if needed) a ledger.
func OpenLedger(cfg LedgerConfig) (*Ledger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("ledger path is required for a persistent ledger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// Write implements Sink.
func (l *Ledger) Write(ctx context.Context, r Record) error {
	return l.Append(ctx, r)
}

// Append stores a sealed record. Existing sequence numbers are never
// overwritten.
func (l *Ledger) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.Sequence, err)
	}
	key := recordKey(r.Sequence)
	return l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("record %d already exists", r.Sequence)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Replay calls fn for every stored record in sequence order.
func (l *Ledger) Replay(ctx context.Context, fn func(Record) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				var derr error
				rec, derr = Unmarshal(val)
				return derr
			})
			if err != nil {
				return fmt.Errorf("decode %x: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Records returns every stored record in sequence order.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	err := l.Replay(ctx, func(r Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Last returns the highest-sequence record, if any.
func (l *Ledger) Last() (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), keyPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(keyPrefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error {
			var err error
			rec, err = Unmarshal(val)
			return err
		})
	})
	return rec, found, err
}

// Chain returns a Chain positioned after the last stored record.
func (l *Ledger) Chain() (*Chain, error) {
	last, ok, err := l.Last()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewChain(), nil
	}
	l.logger.Info("resuming audit chain",
		slog.Uint64("sequence", last.Sequence),
		slog.String("hash", last.Hash))
	return ResumeChain(last), nil
}

// Verify replays the ledger and checks the full hash chain.
func (l *Ledger) Verify(ctx context.Context) (uint64, error) {
	var (
		prevSeq  uint64
		prevHash = GenesisHash
		count    uint64
	)
	err := l.Replay(ctx, func(r Record) error {
		if err := Verify([]Record{r}, prevSeq, prevHash); err != nil {
			return err
		}
		prevSeq, prevHash = r.Sequence, r.Hash
		count++
		return nil
	})
	return count, err
}

// Close implements Sink.
func (l *Ledger) Close() error {
	return l.db.Close()
}
