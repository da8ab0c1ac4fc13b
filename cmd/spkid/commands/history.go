package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/spkid/cmd/spkid/internal/config"
	"github.com/haivivi/spkid/pkg/cli"
	"github.com/haivivi/spkid/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show training history",
	Long: `Without arguments, list every journaled training run. With a run id,
show that run's validation records in step order.

Training runs are journaled when history_dir is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), &cfg)
		if cfg.HistoryDir == "" {
			return fmt.Errorf("%w: history_dir is not set", config.ErrInvalid)
		}
		h, err := history.OpenBadger(history.BadgerOptions{Dir: cfg.HistoryDir, Logger: logger})
		if err != nil {
			return err
		}
		defer h.Close()

		ctx := cmd.Context()
		if len(args) == 0 {
			runs, err := h.Runs(ctx)
			if err != nil {
				return err
			}
			return cli.Output(cmd.OutOrStdout(), runTable(runs), outputFormat())
		}
		var recs recordTable
		for r, err := range h.Records(ctx, args[0]) {
			if err != nil {
				return err
			}
			recs = append(recs, r)
		}
		if len(recs) == 0 {
			return fmt.Errorf("%w: %s", history.ErrNotFound, args[0])
		}
		return cli.Output(cmd.OutOrStdout(), recs, outputFormat())
	},
}

func init() {
	addConfigFlags(historyCmd, flagsHistory)
	rootCmd.AddCommand(historyCmd)
}

type runTable []history.Run

func (runTable) Header() []string {
	return []string{"RUN", "RECORDS", "LAST STEP", "BEST STEP", "BEST ACCURACY", "STARTED"}
}

func (t runTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		rows[i] = []string{
			r.ID, fmt.Sprint(r.Records), fmt.Sprint(r.LastStep), fmt.Sprint(r.BestStep),
			cli.FormatRate(r.BestAccuracy), r.Started.Format(time.DateTime),
		}
	}
	return rows
}

type recordTable []history.Record

func (recordTable) Header() []string {
	return []string{"STEP", "LR", "TRAIN LOSS", "TRAIN ACC", "VALID LOSS", "VALID ACC", "BEST"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, r := range t {
		best := ""
		if r.Best {
			best = "*"
		}
		rows[i] = []string{
			fmt.Sprint(r.Step), fmt.Sprintf("%.2e", r.LR),
			fmt.Sprintf("%.4f", r.TrainLoss), cli.FormatRate(r.TrainAccuracy),
			fmt.Sprintf("%.4f", r.ValidLoss), cli.FormatRate(r.ValidAccuracy), best,
		}
	}
	return rows
}
