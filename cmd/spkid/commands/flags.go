package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/spkid/cmd/spkid/internal/config"
)

// Flag groups. Flags override the config file only when set on the
// command line.
const (
	flagsData = 1 << iota
	flagsTrain
	flagsInfer
	flagsHistory
)

func addConfigFlags(cmd *cobra.Command, groups int) {
	def := config.Default()
	fs := cmd.Flags()
	if groups&(flagsData|flagsTrain|flagsInfer) != 0 {
		fs.String("data-dir", def.DataDir, "corpus directory or s3:// prefix")
		fs.Int("worker-count", def.WorkerCount, "concurrent feature file reads (0 means 1)")
	}
	if groups&(flagsTrain|flagsHistory) != 0 {
		fs.String("history-dir", def.HistoryDir, "training history database directory (empty disables)")
	}
	if groups&flagsTrain != 0 {
		fs.String("save-path", def.SavePath, "checkpoint destination")
		fs.Int("batch-size", def.BatchSize, "utterances per batch")
		fs.Int("valid-steps", def.ValidSteps, "steps between validations")
		fs.Int("warmup-steps", def.WarmupSteps, "linear warmup steps")
		fs.Int("save-steps", def.SaveSteps, "steps between checkpoint saves")
		fs.Int("total-steps", def.TotalSteps, "optimizer updates to run")
		fs.Int("segment-len", def.SegmentLen, "frames per training segment")
		fs.Float64("learning-rate", def.LearningRate, "peak learning rate")
		fs.Float64("train-fraction", def.TrainFraction, "share of utterances used for training")
		fs.Int64("seed", def.Seed, "random seed for split, shuffling, sampling and init")
		fs.String("device", def.Device, "compute device (cpu, auto)")
	}
	if groups&flagsInfer != 0 {
		fs.String("model-path", def.ModelPath, "checkpoint to load")
		fs.String("output-path", def.OutputPath, "prediction CSV destination")
	}
}

// loadConfig resolves defaults, the --config file and set flags, then
// validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	applyFlags(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, c *config.Config) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	float := func(name string, dst *float64) {
		if fs.Changed(name) {
			*dst, _ = fs.GetFloat64(name)
		}
	}
	str("data-dir", &c.DataDir)
	str("save-path", &c.SavePath)
	str("model-path", &c.ModelPath)
	str("output-path", &c.OutputPath)
	str("history-dir", &c.HistoryDir)
	str("device", &c.Device)
	num("worker-count", &c.WorkerCount)
	num("batch-size", &c.BatchSize)
	num("valid-steps", &c.ValidSteps)
	num("warmup-steps", &c.WarmupSteps)
	num("save-steps", &c.SaveSteps)
	num("total-steps", &c.TotalSteps)
	num("segment-len", &c.SegmentLen)
	float("learning-rate", &c.LearningRate)
	float("train-fraction", &c.TrainFraction)
	if fs.Changed("seed") {
		c.Seed, _ = fs.GetInt64("seed")
	}
}
