package commands

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roleplay-ai/voicecall/internal/stream"
)

var flagHistory int

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a text message and print the reply as it streams",
	Args:  cobra.MinimumNArgs(1),
	Example: `  voicecall chat --conversation 42 --user 7 "Good evening, captain."
  voicecall chat --history 10 "What did I just ask?"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVar(&flagHistory, "history", 0, "print the last N messages before sending")
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := requireConversation(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chat := newChat(newClient())
	if flagHistory > 0 {
		if err := chat.Sync(ctx); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		if t := chat.History().Transcript(flagHistory); t != "" {
			fmt.Fprintln(cmd.OutOrStdout(), t)
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}

	out := cmd.OutOrStdout()
	_, err := chat.Send(ctx, strings.Join(args, " "), func(d stream.Delta) {
		fmt.Fprint(out, d.Text)
	})
	fmt.Fprintln(out)
	return err
}
