package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/pkg/checkpoint"
	"github.com/haivivi/spkid/pkg/cli"
	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/infer"
	"github.com/haivivi/spkid/pkg/storage"
)

var inferProgressFlag bool

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Predict speakers for unlabeled utterances",
	Long: `Predict a speaker for every utterance in data_dir/testdata.json using the
checkpoint at model_path, and write an Id,Category CSV to output_path.`,
	Args: cobra.NoArgs,
	RunE: runInfer,
}

func init() {
	addConfigFlags(inferCmd, flagsInfer)
	inferCmd.Flags().BoolVar(&inferProgressFlag, "progress", false, "draw a progress bar on stderr")
	rootCmd.AddCommand(inferCmd)
}

func runInfer(cmd *cobra.Command, args []string) error {
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
	mapping, err := corpus.LoadMapping(ctx, data)
	if err != nil {
		return err
	}
	utts, err := corpus.LoadUnlabeled(ctx, data)
	if err != nil {
		return err
	}
	out.Info("Finish loading data!")

	ckpt, ckptName, err := storage.OpenFile(ctx, cfg.ModelPath)
	if err != nil {
		return err
	}
	snap, err := checkpoint.Load(ctx, ckpt, ckptName)
	if err != nil {
		return err
	}
	runner, err := infer.NewRunner(snap, mapping, data, logger)
	if err != nil {
		return err
	}
	out.Info("Finish creating model!")

	var progress func()
	if inferProgressFlag {
		bar := newCountProgress(cmd.ErrOrStderr(), "Infer", len(utts))
		defer bar.Close()
		progress = bar.Inc
	}
	preds, err := runner.Run(ctx, utts, progress)
	if err != nil {
		return err
	}

	dst, name, err := storage.OpenFile(ctx, cfg.OutputPath)
	if err != nil {
		return err
	}
	if err := infer.SaveCSV(ctx, dst, name, preds); err != nil {
		return err
	}
	out.Success("wrote %d predictions to %s (model step %d, accuracy=%.4f)", len(preds), cfg.OutputPath, snap.Step, snap.Accuracy)
	return nil
}
