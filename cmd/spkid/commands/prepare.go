package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/pkg/cli"
	"github.com/haivivi/spkid/pkg/prepare"
	"github.com/haivivi/spkid/pkg/storage"
)

var (
	prepareSampleRate int
	prepareUnlabeled  bool
	prepareWorkers    int
	prepareProgress   bool
)

var prepareCmd = &cobra.Command{
	Use:   "prepare <input-dir> <corpus-dir>",
	Short: "Build a corpus from raw PCM clips",
	Long: `Extract 40-bin log mel filterbank features from raw 16-bit little-endian
mono PCM clips and write them, with their index files, to corpus-dir.

A labeled input holds one directory per speaker:

  <input-dir>/<speaker>/<clip>.pcm

and produces metadata.json and mapping.json. With --test the input holds
clips directly and testdata.json is written instead.

corpus-dir may be a local directory or an s3:// prefix.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dst, err := storage.OpenDir(ctx, args[1])
		if err != nil {
			return err
		}
		opts := prepare.Options{
			InputDir:   args[0],
			Output:     dst,
			SampleRate: prepareSampleRate,
			Unlabeled:  prepareUnlabeled,
			Workers:    prepareWorkers,
			Logger:     logger,
		}
		if prepareProgress {
			clips, err := prepare.Scan(args[0], prepareUnlabeled)
			if err != nil {
				return err
			}
			bar := newCountProgress(cmd.ErrOrStderr(), "Prepare", len(clips))
			defer bar.Close()
			opts.Progress = bar.Inc
		}
		res, err := prepare.Run(ctx, opts)
		if err != nil {
			return err
		}
		out := cli.NewPrinter(cmd.OutOrStdout())
		if res.Skipped > 0 {
			out.Warn("skipped %d clips shorter than one window", res.Skipped)
		}
		what := fmt.Sprintf("%d utterances", res.Utterances)
		if !prepareUnlabeled {
			what = fmt.Sprintf("%d speakers, %s", res.Speakers, what)
		}
		out.Success("prepared %s in %s", what, args[1])
		return nil
	},
}

func init() {
	prepareCmd.Flags().IntVar(&prepareSampleRate, "sample-rate", 16000, "sample rate of the input clips")
	prepareCmd.Flags().BoolVar(&prepareUnlabeled, "test", false, "input is unlabeled; write testdata.json")
	prepareCmd.Flags().IntVarP(&prepareWorkers, "workers", "j", runtime.NumCPU(), "concurrent extractions")
	prepareCmd.Flags().BoolVar(&prepareProgress, "progress", false, "draw a progress bar on stderr")
	rootCmd.AddCommand(prepareCmd)
}
