// Package history journals validation results of training runs so that a
// run's progress can be inspected after (or while) it executes.
//
// Records are keyed by run id and step:
//
//	run:<run id>:<step, 12 digits zero padded>
//
// so a prefix scan over one run yields its records in step order. Values
// are msgpack-encoded Records. A Badger store persists the journal on disk;
// Memory serves tests and runs with history disabled.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel errors.
var (
	ErrBadRunID = errors.New("history: bad run id")
	ErrNotFound = errors.New("history: run not found")
)

const keyPrefix = "run:"

// Record is one validation checkpoint of a run.
type Record struct {
	RunID         string    `msgpack:"run_id" json:"run_id" yaml:"run_id"`
	Step          int       `msgpack:"step" json:"step" yaml:"step"`
	LR            float64   `msgpack:"lr" json:"lr" yaml:"lr"`
	TrainLoss     float64   `msgpack:"train_loss" json:"train_loss" yaml:"train_loss"`
	TrainAccuracy float64   `msgpack:"train_accuracy" json:"train_accuracy" yaml:"train_accuracy"`
	ValidLoss     float64   `msgpack:"valid_loss" json:"valid_loss" yaml:"valid_loss"`
	ValidAccuracy float64   `msgpack:"valid_accuracy" json:"valid_accuracy" yaml:"valid_accuracy"`
	Best          bool      `msgpack:"best" json:"best" yaml:"best"`
	Time          time.Time `msgpack:"time" json:"time" yaml:"time"`
}

// Run summarizes the records of one run.
type Run struct {
	ID           string    `json:"id" yaml:"id"`
	Records      int       `json:"records" yaml:"records"`
	LastStep     int       `json:"last_step" yaml:"last_step"`
	BestStep     int       `json:"best_step" yaml:"best_step"`
	BestAccuracy float64   `json:"best_accuracy" yaml:"best_accuracy"`
	Started      time.Time `json:"started" yaml:"started"`
	Updated      time.Time `json:"updated" yaml:"updated"`
}

// Store is a training history journal.
type Store interface {
	// Append stores r, replacing any record with the same run and step.
	Append(ctx context.Context, r Record) error

	// Records iterates one run's records in step order.
	Records(ctx context.Context, runID string) iter.Seq2[Record, error]

	// Runs summarizes every run, ordered by start time.
	Runs(ctx context.Context) ([]Run, error)

	// Close releases any resources held by the store.
	Close() error
}

// NewRunID returns a fresh random run id.
func NewRunID() string { return uuid.NewString() }

func validRunID(id string) error {
	if id == "" || strings.ContainsRune(id, ':') {
		return fmt.Errorf("%w: %q", ErrBadRunID, id)
	}
	return nil
}

func runPrefix(runID string) []byte {
	return []byte(keyPrefix + runID + ":")
}

func recordKey(r Record) []byte {
	return fmt.Appendf(runPrefix(r.RunID), "%012d", r.Step)
}

// parseKey splits a record key into run id and step.
func parseKey(key []byte) (string, int, error) {
	rest, ok := strings.CutPrefix(string(key), keyPrefix)
	if !ok {
		return "", 0, fmt.Errorf("history: foreign key %q", key)
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("history: malformed key %q", key)
	}
	step, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("history: malformed key %q: %w", key, err)
	}
	return rest[:i], step, nil
}

func encodeRecord(r Record) ([]byte, error) {
	return msgpack.Marshal(&r)
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("history: decode: %w", err)
	}
	return r, nil
}

// summarize folds records, grouped by run, into run summaries.
func summarize(all iter.Seq2[Record, error]) ([]Run, error) {
	var runs []Run
	index := map[string]int{}
	for r, err := range all {
		if err != nil {
			return nil, err
		}
		i, ok := index[r.RunID]
		if !ok {
			i = len(runs)
			index[r.RunID] = i
			runs = append(runs, Run{ID: r.RunID, Started: r.Time, BestAccuracy: -1})
		}
		run := &runs[i]
		run.Records++
		if r.Step >= run.LastStep {
			run.LastStep = r.Step
			run.Updated = r.Time
		}
		if r.Time.Before(run.Started) {
			run.Started = r.Time
		}
		if r.ValidAccuracy > run.BestAccuracy {
			run.BestAccuracy = r.ValidAccuracy
			run.BestStep = r.Step
		}
	}
	slices.SortStableFunc(runs, func(a, b Run) int {
		return a.Started.Compare(b.Started)
	})
	return runs, nil
}
