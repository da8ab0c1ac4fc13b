package commands

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/cmd/spkid/internal/config"
	"github.com/haivivi/spkid/pkg/cli"
	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/dataloader"
	"github.com/haivivi/spkid/pkg/history"
	"github.com/haivivi/spkid/pkg/model"
	"github.com/haivivi/spkid/pkg/storage"
	"github.com/haivivi/spkid/pkg/train"
)

var trainProgressFlag bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a speaker classifier",
	Long: `Train a speaker classifier on the labeled corpus in data_dir.

The corpus is split into training and validation subsets by train_fraction.
Every valid_steps steps the validation subset is scored and the best model
so far is kept in memory; every save_steps steps that best model is written
to save_path.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	addConfigFlags(trainCmd, flagsTrain)
	trainCmd.Flags().BoolVar(&trainProgressFlag, "progress", false, "draw progress bars on stderr")
	rootCmd.AddCommand(trainCmd)
}

type trainSummary struct {
	RunID        string  `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Steps        int     `json:"steps" yaml:"steps"`
	Validations  int     `json:"validations" yaml:"validations"`
	Saves        int     `json:"saves" yaml:"saves"`
	BestStep     int     `json:"best_step" yaml:"best_step"`
	BestAccuracy float64 `json:"best_accuracy" yaml:"best_accuracy"`
	Checkpoint   string  `json:"checkpoint" yaml:"checkpoint"`
	Elapsed      string  `json:"elapsed" yaml:"elapsed"`
}

func (s trainSummary) Header() []string {
	return []string{"RUN", "STEPS", "BEST STEP", "BEST ACCURACY", "SAVES", "ELAPSED"}
}

func (s trainSummary) Rows() [][]string {
	return [][]string{{
		s.RunID, fmt.Sprint(s.Steps), fmt.Sprint(s.BestStep),
		cli.FormatRate(s.BestAccuracy), fmt.Sprint(s.Saves), s.Elapsed,
	}}
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cli.NewPrinter(cmd.OutOrStdout())
	out.Info("Use %s now!", cfg.ResolvedDevice())

	data, err := storage.OpenDir(ctx, cfg.DataDir)
	if err != nil {
		return err
	}
	c, err := corpus.Load(ctx, data)
	if err != nil {
		return err
	}
	numMels := cfg.NumMels
	if c.NumMels != 0 && c.NumMels != numMels {
		logger.Warn("n_mels taken from the corpus", "config", numMels, "corpus", c.NumMels)
		numMels = c.NumMels
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trainIdx, validIdx := corpus.Split(rng, c.Len(), cfg.TrainFraction)
	if len(trainIdx) == 0 || len(validIdx) == 0 {
		return fmt.Errorf("%w: train_fraction %v splits %d utterances into %d train and %d valid",
			config.ErrInvalid, cfg.TrainFraction, c.Len(), len(trainIdx), len(validIdx))
	}
	loader := dataloader.New(data, cfg.SegmentLen, cfg.WorkerCount)
	cycle, err := loader.Cycle(c.Subset(trainIdx), cfg.BatchSize, rng)
	if err != nil {
		return err
	}
	valid := loader.Subset(c.Subset(validIdx), cfg.BatchSize, rng)
	logger.Debug("corpus split", "speakers", c.NumSpeakers(), "train", len(trainIdx), "valid", valid.Len())
	out.Info("Finish loading data!")

	m, err := model.NewClassifier(model.Arch{
		NumMels:     numMels,
		DModel:      cfg.DModel,
		FeedForward: cfg.FeedForward,
		NumHeads:    cfg.NumHeads,
		NumSpeakers: c.NumSpeakers(),
		Dropout:     cfg.Dropout,
	}, cfg.Seed)
	if err != nil {
		return err
	}
	opt := model.NewAdamW(m.Parameters())
	out.Info("Finish creating model!")

	ckpt, ckptName, err := storage.OpenFile(ctx, cfg.SavePath)
	if err != nil {
		return err
	}

	opts := train.Options{
		Model:     m,
		Optimizer: opt,
		Train:     cycle,
		Valid:     valid,
		Store:     ckpt,
		Logger:    logger,
	}
	tcfg := train.Config{
		TotalSteps:     cfg.TotalSteps,
		WarmupSteps:    cfg.WarmupSteps,
		ValidSteps:     cfg.ValidSteps,
		SaveSteps:      cfg.SaveSteps,
		LearningRate:   cfg.LearningRate,
		CheckpointPath: ckptName,
	}
	if cfg.HistoryDir != "" {
		h, err := history.OpenBadger(history.BadgerOptions{Dir: cfg.HistoryDir, Logger: logger})
		if err != nil {
			return err
		}
		defer h.Close()
		opts.History = h
		tcfg.RunID = history.NewRunID()
		logger.Info("journaling validations", "run", tcfg.RunID, "dir", cfg.HistoryDir)
	}
	var progress *trainProgress
	if trainProgressFlag {
		progress = newTrainProgress(cmd.ErrOrStderr(), cfg.ValidSteps)
		opts.Reporter = progress
	}

	trainer, err := train.New(tcfg, opts)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := trainer.Run(ctx)
	if progress != nil {
		progress.Close()
	}
	if err != nil {
		return err
	}

	if res.BestAccuracy < 0 {
		out.Warn("no validation ran; nothing was saved")
	}
	return cli.Output(cmd.OutOrStdout(), trainSummary{
		RunID:        tcfg.RunID,
		Steps:        res.Steps,
		Validations:  res.Validations,
		Saves:        res.Saves,
		BestStep:     res.BestStep,
		BestAccuracy: res.BestAccuracy,
		Checkpoint:   cfg.SavePath,
		Elapsed:      cli.FormatDuration(time.Since(start)),
	}, outputFormat())
}
