package cmd

import (
	"os"

	"github.com/nfrund/relay/internal/logging"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "Relay CLI tool",
	Long: `relay-cli is a terminal client for the presence and messaging relay.

Available commands:
  chat       Open an interactive conversation with another user
  history    Print the stored conversation between two users
  version    Print the version

Use "relay-cli [command] --help" for more information about a specific command.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.New("text", logLevel)
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the relay server")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "your user id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}
