package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"droneops-ctl/internal/sink"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayJSON      bool
	replayFrom      string
	replayUntil     string
	replayMaxGap    time.Duration
)

func parseReplayTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return t, nil
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a telemetry log file",
	Long:  "replay feeds telemetry records from a JSONL log back into the configured writers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		opts := sink.ReplayOptions{Speed: replaySpeed, MaxGap: replayMaxGap}
		var err error
		if opts.From, err = parseReplayTime("from", replayFrom); err != nil {
			return err
		}
		if opts.Until, err = parseReplayTime("until", replayUntil); err != nil {
			return err
		}
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		// A replay is its own session and must not append to the source log.
		cfg.Record.JSONL = ""
		ws, err := newWriters(&cfg, writerOptions{
			session:   "replay-" + sink.NewSession(),
			printOnly: replayPrintOnly,
			json:      replayJSON,
		}, slog.Default())
		if err != nil {
			return err
		}
		defer ws.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		stats, err := sink.ReplayFile(ctx, replayInput, ws.out, opts)
		slog.Info("replay finished",
			"input", replayInput,
			"replayed", humanize.Comma(int64(stats.Replayed)),
			"filtered", stats.Filtered,
			"invalid", stats.Invalid)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print JSON envelopes instead of the colored console")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Skip records received before this RFC3339 time")
	replayCmd.Flags().StringVar(&replayUntil, "until", "", "Skip records received after this RFC3339 time")
	replayCmd.Flags().DurationVar(&replayMaxGap, "max-gap", 5*time.Second, "Longest pause between replayed records (0 = uncapped)")
	replayCmd.MarkFlagRequired("input")
}
