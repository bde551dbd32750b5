package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"conversation-service/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "conversation-service",
	Short:        "Real-time conversation sync service",
	Long:         `Serves live conversations over websockets with an HTTP fallback API, read/delivery sync and an admin gRPC endpoint.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml); env CONVO_* overrides it")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
