// Package config holds the spkid run configuration.
//
// A configuration file is YAML with one scalar per option:
//
//	data_dir: ./Dataset
//	save_path: model.ckpt
//	batch_size: 512
//	valid_steps: 20
//	warmup_steps: 10
//	save_steps: 100
//	total_steps: 70000
//
// Keys left out keep their defaults; unknown keys are rejected. Locations
// (data_dir, save_path, model_path, output_path) may be local paths or
// s3://bucket/prefix URIs.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full set of options for training and inference.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	SavePath   string `yaml:"save_path"`
	ModelPath  string `yaml:"model_path"`
	OutputPath string `yaml:"output_path"`
	HistoryDir string `yaml:"history_dir"`

	BatchSize   int `yaml:"batch_size"`
	WorkerCount int `yaml:"worker_count"`
	ValidSteps  int `yaml:"valid_steps"`
	WarmupSteps int `yaml:"warmup_steps"`
	SaveSteps   int `yaml:"save_steps"`
	TotalSteps  int `yaml:"total_steps"`
	SegmentLen  int `yaml:"segment_len"`

	LearningRate  float64 `yaml:"learning_rate"`
	TrainFraction float64 `yaml:"train_fraction"`
	Seed          int64   `yaml:"seed"`
	Device        string  `yaml:"device"`

	NumMels     int     `yaml:"n_mels"`
	DModel      int     `yaml:"d_model"`
	FeedForward int     `yaml:"feed_forward"`
	NumHeads    int     `yaml:"n_heads"`
	Dropout     float64 `yaml:"dropout"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DataDir:       "./Dataset",
		SavePath:      "model.ckpt",
		ModelPath:     "model.ckpt",
		OutputPath:    "output.csv",
		BatchSize:     512,
		WorkerCount:   0,
		ValidSteps:    20,
		WarmupSteps:   10,
		SaveSteps:     100,
		TotalSteps:    70000,
		SegmentLen:    128,
		LearningRate:  1e-3,
		TrainFraction: 0.9,
		Seed:          0,
		Device:        "cpu",
		NumMels:       40,
		DModel:        80,
		FeedForward:   256,
		NumHeads:      2,
		Dropout:       0.1,
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data into cfg, keeping fields the data leaves out.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks every option. Device accepts "cpu" and "auto", which
// resolves to cpu.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	positive := []struct {
		name string
		v    int
	}{
		{"batch_size", c.BatchSize},
		{"valid_steps", c.ValidSteps},
		{"save_steps", c.SaveSteps},
		{"segment_len", c.SegmentLen},
		{"n_mels", c.NumMels},
		{"d_model", c.DModel},
		{"feed_forward", c.FeedForward},
		{"n_heads", c.NumHeads},
	}
	for _, p := range positive {
		if p.v <= 0 {
			bad("%s must be positive, got %d", p.name, p.v)
		}
	}
	if c.NumHeads > 0 && c.DModel%c.NumHeads != 0 {
		bad("n_heads %d does not divide d_model %d", c.NumHeads, c.DModel)
	}
	if c.TotalSteps < 0 {
		bad("total_steps must not be negative, got %d", c.TotalSteps)
	}
	if c.WarmupSteps < 0 {
		bad("warmup_steps must not be negative, got %d", c.WarmupSteps)
	}
	if c.WorkerCount < 0 {
		bad("worker_count must not be negative, got %d", c.WorkerCount)
	}
	if c.LearningRate < 0 {
		bad("learning_rate must not be negative, got %v", c.LearningRate)
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		bad("train_fraction must be in (0, 1), got %v", c.TrainFraction)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		bad("dropout must be in [0, 1), got %v", c.Dropout)
	}
	switch c.Device {
	case "cpu", "auto":
	default:
		bad("device %q is not available; use cpu", c.Device)
	}
	if c.DataDir == "" {
		bad("data_dir is empty")
	}
	return errors.Join(errs...)
}

// ResolvedDevice returns the device the run will use.
func (c Config) ResolvedDevice() string {
	return "cpu"
}
