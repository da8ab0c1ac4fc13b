package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by BadgerDB.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory keeps the database in memory only.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// OpenBadger opens (or creates) a Badger journal.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogLogger{logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("history: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Append stores r.
func (b *Badger) Append(_ context.Context, r Record) error {
	if err := validRunID(r.RunID); err != nil {
		return err
	}
	val, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r), val)
	})
}

// Records iterates one run's records in step order.
func (b *Badger) Records(_ context.Context, runID string) iter.Seq2[Record, error] {
	if err := validRunID(runID); err != nil {
		return func(yield func(Record, error) bool) { yield(Record{}, err) }
	}
	return b.scan(runPrefix(runID))
}

// Runs summarizes every run in the journal.
func (b *Badger) Runs(_ context.Context) ([]Run, error) {
	return summarize(b.scan([]byte(keyPrefix)))
}

func (b *Badger) scan(prefix []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		stopped := false
		err := b.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				key := item.KeyCopy(nil)
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				r, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				if r.RunID == "" {
					r.RunID, r.Step, err = parseKey(key)
					if err != nil {
						return err
					}
				}
				if !yield(r, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Record{}, err)
		}
	}
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger routes badger logs to slog, demoting info to debug.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Errorf(f string, v ...any)   { s.l.Error(trimNewline(fmt.Sprintf(f, v...))) }
func (s slogLogger) Warningf(f string, v ...any) { s.l.Warn(trimNewline(fmt.Sprintf(f, v...))) }
func (s slogLogger) Infof(f string, v ...any)    { s.l.Debug(trimNewline(fmt.Sprintf(f, v...))) }
func (s slogLogger) Debugf(f string, v ...any)   { s.l.Debug(trimNewline(fmt.Sprintf(f, v...))) }

func trimNewline(s string) string { return strings.TrimRight(s, "\n") }

var _ Store = (*Badger)(nil)
