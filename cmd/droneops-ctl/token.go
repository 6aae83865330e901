package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"droneops-ctl/internal/admin"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator bearer token for the admin console",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		auth := admin.NewAuthenticator(cfg.Admin.JWTSecret)
		if auth == nil {
			return fmt.Errorf("admin.jwt_secret (or ADMIN_JWT_SECRET) is not set")
		}
		tok, err := auth.Issue(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
}
