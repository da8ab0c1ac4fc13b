package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	formatOutput string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "spkid",
	Short: "Closed-set speaker identification",
	Long: `spkid - train and run a speaker identification classifier.

A corpus directory holds per-utterance log mel feature files plus three
JSON indexes (metadata.json, mapping.json, testdata.json). It may live on
disk or under an s3:// prefix; S3 access is configured through the usual
AWS_* environment variables.

Options come from defaults, then the --config YAML file, then flags.

Examples:
  # Build a corpus from <speaker>/<clip>.pcm files
  spkid prepare ./raw ./Dataset

  # Train with a config file, overriding one option
  spkid -c spkid.yaml train --total-steps 2000

  # Predict speakers for testdata.json
  spkid infer --data-dir ./Dataset --model-path model.ckpt --output-path output.csv`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		_, err := cli.ParseFormat(formatOutput)
		return err
	},
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "yaml", "output format for structured results (yaml, json, table)")
}

// outputFormat returns the validated --format value.
func outputFormat() cli.OutputFormat {
	f, _ := cli.ParseFormat(formatOutput)
	return f
}
