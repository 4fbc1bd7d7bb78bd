package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "tpanel",
	Short: "termpanel CLI - Manage terminal sessions and virtual displays",
	Long: `termpanel CLI (tpanel) is a command-line tool for a termpanel server.

It provides commands to create and manage terminal sessions, attach to
their live PTY streams, manage virtual display slots, and maintain
per-session quick-command lists.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("TERMPANEL_URL", "http://127.0.0.1:8080"), "termpanel API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("TERMPANEL_API_KEY"), "termpanel API key")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
