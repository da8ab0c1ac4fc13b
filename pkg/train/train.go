// Package train drives the step-based training loop.
//
// One step consumes one batch from an endless cursor and performs one
// optimizer update:
//
//	forward -> loss -> backward -> optimizer step at baseLR*multiplier(step)
//	        -> step++ -> zero gradients
//
// Every ValidSteps steps the whole validation subset is scored; a strictly
// better accuracy replaces the in-memory best snapshot. Every SaveSteps
// steps the best snapshot, if any, overwrites the checkpoint file. The
// save does not require a validation at the same step, so the persisted
// snapshot may be older than the save.
package train

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/haivivi/spkid/pkg/checkpoint"
	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/history"
	"github.com/haivivi/spkid/pkg/model"
	"github.com/haivivi/spkid/pkg/schedule"
	"github.com/haivivi/spkid/pkg/storage"
)

// Sentinel errors.
var (
	ErrConfig          = errors.New("train: invalid config")
	ErrEmptyValidation = errors.New("train: validation set produced no batches")
)

// BatchSource yields training batches without end.
type BatchSource interface {
	Next(ctx context.Context) (features.Batch, error)
}

// ValidationSet yields one pass over the validation subset per call.
type ValidationSet interface {
	Pass(ctx context.Context) iter.Seq2[features.Batch, error]
}

// Config holds the loop's scalar settings.
type Config struct {
	TotalSteps   int
	WarmupSteps  int
	ValidSteps   int
	SaveSteps    int
	LearningRate float64

	// Cycles shapes the cosine decay; zero means schedule.DefaultCycles.
	Cycles float64

	// CheckpointPath names the checkpoint file inside Options.Store.
	CheckpointPath string

	// RunID keys history records. Required when Options.History is set.
	RunID string
}

func (c Config) validate() error {
	switch {
	case c.TotalSteps < 0:
		return fmt.Errorf("%w: total_steps=%d", ErrConfig, c.TotalSteps)
	case c.WarmupSteps < 0:
		return fmt.Errorf("%w: warmup_steps=%d", ErrConfig, c.WarmupSteps)
	case c.ValidSteps <= 0:
		return fmt.Errorf("%w: valid_steps=%d", ErrConfig, c.ValidSteps)
	case c.SaveSteps <= 0:
		return fmt.Errorf("%w: save_steps=%d", ErrConfig, c.SaveSteps)
	case c.LearningRate < 0:
		return fmt.Errorf("%w: learning_rate=%v", ErrConfig, c.LearningRate)
	case c.CheckpointPath == "":
		return fmt.Errorf("%w: empty checkpoint path", ErrConfig)
	}
	return nil
}

// Options wires the loop's collaborators.
type Options struct {
	Model     model.Model
	Optimizer model.Optimizer
	Train     BatchSource
	Valid     ValidationSet

	// Store receives the checkpoint file.
	Store storage.FileStore

	// History, if set, journals every validation.
	History history.Store

	// Reporter, if set, observes progress.
	Reporter Reporter

	Logger *slog.Logger
}

// Result summarizes a finished run.
type Result struct {
	Steps        int
	Validations  int
	Saves        int
	BestStep     int
	BestAccuracy float64 // -1 when no validation ran
}

// Trainer runs the loop. A Trainer is single use.
type Trainer struct {
	cfg      Config
	opts     Options
	schedule schedule.CosineWithWarmup
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and opts.
func New(cfg Config, opts Options) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch {
	case opts.Model == nil:
		return nil, fmt.Errorf("%w: no model", ErrConfig)
	case opts.Optimizer == nil:
		return nil, fmt.Errorf("%w: no optimizer", ErrConfig)
	case opts.Train == nil || opts.Valid == nil:
		return nil, fmt.Errorf("%w: missing data source", ErrConfig)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: no checkpoint store", ErrConfig)
	case opts.History != nil && cfg.RunID == "":
		return nil, fmt.Errorf("%w: history needs a run id", ErrConfig)
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := schedule.New(cfg.WarmupSteps, cfg.TotalSteps)
	if cfg.Cycles != 0 {
		sched.Cycles = cfg.Cycles
	}
	return &Trainer{cfg: cfg, opts: opts, schedule: sched, logger: logger, now: time.Now}, nil
}

// Run trains for TotalSteps steps. Cancellation of ctx is observed between
// steps; a cancelled run returns ctx.Err() and saves nothing further.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	m, opt := t.opts.Model, t.opts.Optimizer
	res := Result{BestAccuracy: -1}
	var best *checkpoint.Snapshot

	m.SetTraining(true)
	for step := 0; step < t.cfg.TotalSteps; {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := t.opts.Train.Next(ctx)
		if err != nil {
			return res, fmt.Errorf("train: step %d: fetch: %w", step+1, err)
		}
		logits, err := m.Forward(batch)
		if err != nil {
			return res, fmt.Errorf("train: step %d: forward: %w", step+1, err)
		}
		loss, grad, err := model.CrossEntropy(logits, batch.Labels)
		if err != nil {
			return res, fmt.Errorf("train: step %d: loss: %w", step+1, err)
		}
		acc := model.Accuracy(logits, batch.Labels)

		if err := m.Backward(grad); err != nil {
			return res, fmt.Errorf("train: step %d: backward: %w", step+1, err)
		}
		lr := t.cfg.LearningRate * t.schedule.At(step)
		if err := opt.Step(lr); err != nil {
			return res, fmt.Errorf("train: step %d: optimizer: %w", step+1, err)
		}
		step++
		opt.ZeroGrad()
		res.Steps = step

		stats := StepStats{Step: step, Loss: loss, Accuracy: acc, LR: lr}
		t.opts.Reporter.Step(stats)

		if step%t.cfg.ValidSteps == 0 {
			v, err := t.validate(ctx)
			if err != nil {
				return res, fmt.Errorf("train: step %d: validate: %w", step, err)
			}
			res.Validations++
			v.Step = step
			if v.Accuracy > res.BestAccuracy {
				res.BestAccuracy, res.BestStep = v.Accuracy, step
				best = checkpoint.Capture(step, v.Accuracy, m)
				v.Best = true
			}
			t.logger.Debug("validation", "step", step, "loss", v.Loss, "accuracy", v.Accuracy, "best", v.Best)
			t.opts.Reporter.Validated(v)
			if err := t.journal(ctx, stats, v); err != nil {
				return res, err
			}
		}

		if step%t.cfg.SaveSteps == 0 && best != nil {
			if err := best.Save(ctx, t.opts.Store, t.cfg.CheckpointPath); err != nil {
				return res, fmt.Errorf("train: step %d: %w", step, err)
			}
			res.Saves++
			t.logger.Info("best model saved", "step", step, "accuracy", res.BestAccuracy,
				"snapshot_step", best.Step, "path", t.cfg.CheckpointPath)
			t.opts.Reporter.Saved(step, res.BestAccuracy)
		}
	}
	return res, nil
}

// validate scores one pass over the validation set in eval mode. Loss and
// accuracy are means over batches.
func (t *Trainer) validate(ctx context.Context) (ValidStats, error) {
	m := t.opts.Model
	m.SetTraining(false)
	defer m.SetTraining(true)

	var v ValidStats
	for batch, err := range t.opts.Valid.Pass(ctx) {
		if err != nil {
			return v, err
		}
		logits, err := m.Forward(batch)
		if err != nil {
			return v, err
		}
		loss, _, err := model.CrossEntropy(logits, batch.Labels)
		if err != nil {
			return v, err
		}
		v.Loss += loss
		v.Accuracy += model.Accuracy(logits, batch.Labels)
		v.Batches++
	}
	if v.Batches == 0 {
		return v, ErrEmptyValidation
	}
	v.Loss /= float64(v.Batches)
	v.Accuracy /= float64(v.Batches)
	return v, nil
}

func (t *Trainer) journal(ctx context.Context, s StepStats, v ValidStats) error {
	if t.opts.History == nil {
		return nil
	}
	err := t.opts.History.Append(ctx, history.Record{
		RunID:         t.cfg.RunID,
		Step:          v.Step,
		LR:            s.LR,
		TrainLoss:     s.Loss,
		TrainAccuracy: s.Accuracy,
		ValidLoss:     v.Loss,
		ValidAccuracy: v.Accuracy,
		Best:          v.Best,
		Time:          t.now(),
	})
	if err != nil {
		return fmt.Errorf("train: history: %w", err)
	}
	return nil
}
