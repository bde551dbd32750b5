package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"conversation-service/internal/auth"
)

var (
	tokenUserID int
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user id (development only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID <= 0 {
			return errors.New("--user must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl).Issue(tokenUserID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVarP(&tokenUserID, "user", "u", 0, "user id to embed")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}
