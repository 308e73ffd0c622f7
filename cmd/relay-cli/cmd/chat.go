package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nfrund/relay/internal/client"
	"github.com/spf13/cobra"
)

var (
	chatPeer       string
	chatName       string
	reconnectDelay time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with --peer as --user",
	Long: `Connects to the relay and opens a conversation with --peer.

Type a line and press enter to send it. Commands:
  /online   list online users
  /quit     leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" || chatPeer == "" {
			return fmt.Errorf("--user and --peer are required")
		}
		out := cmd.OutOrStdout()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// History is printed before connecting so live messages are never
		// replaced by an older snapshot.
		printed := make(map[string]bool)
		history, err := client.NewRESTClient(serverURL, nil).Recent(ctx, userID, chatPeer)
		if err != nil {
			fmt.Fprintf(out, "!! could not load history: %v\n", err)
		}
		for _, msg := range history {
			printed[msg.ID] = true
			printMessage(out, msg)
		}

		// Updates run on the manager's dispatcher, one at a time.
		m, err := client.NewManager(client.Config{
			ServerURL:      serverURL,
			ReconnectDelay: reconnectDelay,
			SenderName:     chatName,
			OnUpdate: func(u client.Update) {
				switch u.Kind {
				case client.UpdateMessages:
					for _, msg := range u.Messages {
						if !printed[msg.ID] {
							printed[msg.ID] = true
							printMessage(out, msg)
						}
					}
				case client.UpdateTyping:
					if u.Typing.SenderID == chatPeer && u.Typing.IsTyping {
						fmt.Fprintf(out, "%s is typing...\n", chatPeer)
					}
				case client.UpdateState:
					fmt.Fprintf(out, "-- %s\n", u.State)
				case client.UpdateError:
					fmt.Fprintf(out, "!! %v\n", u.Err)
				}
			},
		})
		if err != nil {
			return err
		}
		defer m.Close()

		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = m.Connect(connectCtx, userID)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "!! realtime connection failed, retrying every %s; messages go through the store: %v\n", reconnectDelay, err)
		}

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case "/quit":
					return nil
				case "/online":
					fmt.Fprintf(out, "online: %s\n", strings.Join(m.Online(), ", "))
					continue
				}
				if err := m.SendMessage(ctx, chatPeer, line); err != nil {
					fmt.Fprintf(out, "!! %v\n", err)
				}
			}
		}
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatPeer, "peer", "", "the user to chat with")
	chatCmd.Flags().StringVar(&chatName, "name", "", "display name used in notifications")
	chatCmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", client.DefaultReconnectDelay, "wait between reconnect attempts")
	rootCmd.AddCommand(chatCmd)
}
