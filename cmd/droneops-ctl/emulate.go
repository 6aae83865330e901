package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"droneops-ctl/internal/emulator"
)

var (
	emuListen      string
	emuStateTarget string
	emuStatePort   int
	emuInterval    time.Duration
	emuModel       string
	emuBattery     int
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an emulated vehicle on UDP",
	Long:  "emulate answers the text command protocol and streams telemetry, for bench testing without hardware.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		emu := emulator.New(emulator.Options{
			Listen:      emuListen,
			StateTarget: emuStateTarget,
			StatePort:   emuStatePort,
			Interval:    emuInterval,
			Model:       emuModel,
			Battery:     emuBattery,
			Logger:      slog.Default(),
		})
		slog.Info("emulated vehicle starting", "listen", emuListen, "model", emuModel, "battery", emuBattery)
		err := emu.Run(ctx)
		slog.Info("emulated vehicle stopped")
		return err
	},
}

func init() {
	emulateCmd.Flags().StringVar(&emuListen, "listen", "0.0.0.0:8889", "Command socket address")
	emulateCmd.Flags().StringVar(&emuStateTarget, "state-target", "", "Telemetry destination host:port (defaults to the SDK command sender)")
	emulateCmd.Flags().IntVar(&emuStatePort, "state-port", 8890, "Telemetry port on the controller when --state-target is empty")
	emulateCmd.Flags().DurationVar(&emuInterval, "interval", 100*time.Millisecond, "Telemetry interval (e.g. 100ms, 1s)")
	emulateCmd.Flags().StringVar(&emuModel, "model", "tello", "Vehicle model profile")
	emulateCmd.Flags().IntVar(&emuBattery, "battery", 100, "Initial battery percentage")
}
