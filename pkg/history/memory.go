package history

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"sync"
)

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Append stores r.
func (m *Memory) Append(_ context.Context, r Record) error {
	if err := validRunID(r.RunID); err != nil {
		return err
	}
	val, err := encodeRecord(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[string(recordKey(r))] = val
	m.mu.Unlock()
	return nil
}

// Records iterates one run's records in step order.
func (m *Memory) Records(_ context.Context, runID string) iter.Seq2[Record, error] {
	if err := validRunID(runID); err != nil {
		return func(yield func(Record, error) bool) { yield(Record{}, err) }
	}
	return m.scan(runPrefix(runID))
}

// Runs summarizes every run.
func (m *Memory) Runs(_ context.Context) ([]Run, error) {
	return summarize(m.scan([]byte(keyPrefix)))
}

func (m *Memory) scan(prefix []byte) iter.Seq2[Record, error] {
	m.mu.RLock()
	var keys []string
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = m.data[k]
	}
	m.mu.RUnlock()
	slices.Sort(keys)

	return func(yield func(Record, error) bool) {
		for _, k := range keys {
			r, err := decodeRecord(vals[k])
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
