package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"droneops-ctl/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB tables",
	Long:  "dashboard renders the embedded Grafana dashboard using the configured GreptimeDB database and table names. GREPTIMEDB_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if err := dashboard.Render(dashboardOut, cfg.Greptime); err != nil {
			return err
		}
		slog.Info("dashboards rendered", "dir", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
