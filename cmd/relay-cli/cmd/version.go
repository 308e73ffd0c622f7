package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0" // set at build time with -ldflags "-X github.com/nfrund/relay/cmd/relay-cli/cmd.version=..."

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of relay-cli",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "relay-cli v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
