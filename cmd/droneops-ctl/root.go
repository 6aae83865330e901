package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/logging"
)

var (
	configPath string
	schemaPath string
	logLevel   string
	logFile    string
)

var (
	logLevelVar                  = new(slog.LevelVar)
	logSink       io.Writer      = os.Stderr
	logFileHandle io.WriteCloser
)

var rootCmd = &cobra.Command{
	Use:   "droneops-ctl",
	Short: "DroneOps flight controller",
	Long:  "droneops-ctl connects to a UDP text-protocol quadcopter, supervises it for safety and records every flight.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != "" {
			f, err := logging.OpenFile(logFile)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			logFileHandle = f
			logSink = io.MultiWriter(os.Stderr, f)
		}
		if logLevel != "" {
			lvl, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logLevelVar.Set(lvl)
		}
		slog.SetDefault(logging.New(logSink, logLevelVar))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFileHandle != nil {
			_ = logFileHandle.Close()
		}
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings reads the configuration named by the global flags. The
// file's log_level applies unless --log-level was given.
func loadSettings() (config.Settings, error) {
	cfg, err := config.Load(configPath, schemaPath)
	if err != nil {
		return config.Settings{}, err
	}
	if logLevel == "" {
		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return config.Settings{}, err
		}
		logLevelVar.Set(lvl)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to controller settings YAML (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append log lines to this file")

	rootCmd.AddCommand(flyCmd)
	rootCmd.AddCommand(emulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(tokenCmd)
}
