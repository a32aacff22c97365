package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roleplay-ai/voicecall/internal/call"
)

var flagJSON bool

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Start a voice call on the local audio devices",
	Long: `Start a voice call without a UI. State changes are printed as they
happen; Ctrl-C hangs up.

Examples:
  voicecall call --conversation 42 --user 7
  voicecall call --json | jq .state`,
	RunE: runCall,
}

func init() {
	callCmd.Flags().BoolVar(&flagJSON, "json", false, "print events as JSON lines")
}

func runCall(cmd *cobra.Command, args []string) error {
	if err := requireConversation(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newClient()
	logBreakers(client)
	sess := newSession(client)

	if err := sess.Start(ctx); err != nil {
		_ = sess.Close()
		return fmt.Errorf("start call: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sess.Hangup(); err != nil {
			slog.Error("hangup", "error", err)
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	for ev := range sess.Events() {
		if flagJSON {
			_ = enc.Encode(ev)
			continue
		}
		printEvent(ev)
	}
	return nil
}

func printEvent(ev call.Event) {
	switch ev.Type {
	case call.EventState:
		fmt.Printf("%s -> %s (%s)\n", ev.From, ev.State, ev.Reason)
	case call.EventUtterance:
		fmt.Printf("sending utterance %s (%s)\n", ev.UtteranceID, ev.Duration)
	case call.EventError:
		fmt.Printf("error [%s]: %s\n", ev.Code, ev.Error)
	}
}
