package cmd

import (
	"fmt"
	"io"

	"github.com/nfrund/relay/internal/client"
	"github.com/nfrund/relay/internal/domain"
	"github.com/spf13/cobra"
)

var (
	historyPeer   string
	historyRecent bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation between --user and --peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" || historyPeer == "" {
			return fmt.Errorf("--user and --peer are required")
		}
		rest := client.NewRESTClient(serverURL, nil)

		var (
			msgs []domain.ChatMessage
			err  error
		)
		if historyRecent {
			msgs, err = rest.Recent(cmd.Context(), userID, historyPeer)
		} else {
			msgs, err = rest.History(cmd.Context(), userID, historyPeer)
		}
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func printMessage(w io.Writer, m domain.ChatMessage) {
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.SenderID, m.Body)
}

func init() {
	historyCmd.Flags().StringVar(&historyPeer, "peer", "", "the other user in the conversation")
	historyCmd.Flags().BoolVar(&historyRecent, "recent", false, "only the latest messages")
	rootCmd.AddCommand(historyCmd)
}
