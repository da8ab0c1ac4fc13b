// Package infer scores unlabeled utterances with a trained checkpoint.
package infer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/haivivi/spkid/pkg/checkpoint"
	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/model"
	"github.com/haivivi/spkid/pkg/storage"
)

// ErrSpeakerMismatch is returned when the checkpoint's output dimension
// differs from the speaker mapping size.
var ErrSpeakerMismatch = errors.New("infer: checkpoint and mapping disagree on speaker count")

// Prediction pairs an utterance with its predicted speaker.
type Prediction struct {
	ID      string
	Speaker string
}

// Runner predicts speakers one utterance at a time over full-length
// sequences.
type Runner struct {
	model   model.Model
	mapping *corpus.Mapping
	store   storage.FileStore
	logger  *slog.Logger
}

// NewRunner builds a fresh classifier from snap and checks it against
// mapping. store serves the feature files.
func NewRunner(snap *checkpoint.Snapshot, mapping *corpus.Mapping, store storage.FileStore, logger *slog.Logger) (*Runner, error) {
	if snap.NumSpeakers != mapping.Len() {
		return nil, fmt.Errorf("%w: checkpoint has %d, mapping has %d", ErrSpeakerMismatch, snap.NumSpeakers, mapping.Len())
	}
	m, err := snap.NewModel()
	if err != nil {
		return nil, err
	}
	return newRunner(m, mapping, store, logger)
}

func newRunner(m model.Model, mapping *corpus.Mapping, store storage.FileStore, logger *slog.Logger) (*Runner, error) {
	if m.NumSpeakers() != mapping.Len() {
		return nil, fmt.Errorf("%w: model has %d, mapping has %d", ErrSpeakerMismatch, m.NumSpeakers(), mapping.Len())
	}
	if logger == nil {
		logger = slog.Default()
	}
	m.SetTraining(false)
	return &Runner{model: m, mapping: mapping, store: store, logger: logger}, nil
}

// Predict returns the speaker for one sequence.
func (r *Runner) Predict(seq features.Sequence) (string, error) {
	b, err := features.Collate([]features.Item{{Segment: seq}})
	if err != nil {
		return "", err
	}
	logits, err := r.model.Forward(b)
	if err != nil {
		return "", err
	}
	id := model.Argmax(logits)[0]
	name, ok := r.mapping.Name(id)
	if !ok {
		return "", fmt.Errorf("%w: class %d", ErrSpeakerMismatch, id)
	}
	return name, nil
}

// Run predicts every utterance in order. Progress, if non-nil, is called
// after each prediction.
func (r *Runner) Run(ctx context.Context, utts []corpus.Utterance, progress func()) ([]Prediction, error) {
	out := make([]Prediction, 0, len(utts))
	for _, u := range utts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq, err := features.Load(ctx, r.store, u.FeaturePath)
		if err != nil {
			return nil, err
		}
		name, err := r.Predict(seq)
		if err != nil {
			return nil, fmt.Errorf("infer: %s: %w", u.FeaturePath, err)
		}
		out = append(out, Prediction{ID: u.FeaturePath, Speaker: name})
		if progress != nil {
			progress()
		}
	}
	r.logger.Debug("inference done", "utterances", len(out))
	return out, nil
}

// WriteCSV writes predictions under the header "Id,Category".
func WriteCSV(w io.Writer, preds []Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Id", "Category"}); err != nil {
		return err
	}
	for _, p := range preds {
		if err := cw.Write([]string{p.ID, p.Speaker}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes predictions to path in store.
func SaveCSV(ctx context.Context, store storage.FileStore, path string, preds []Prediction) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("infer: create %s: %w", path, err)
	}
	if err := WriteCSV(w, preds); err != nil {
		storage.Abort(w, err)
		return fmt.Errorf("infer: write %s: %w", path, err)
	}
	return w.Close()
}
