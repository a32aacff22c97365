package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/roleplay-ai/voicecall/internal/audio"
	"github.com/roleplay-ai/voicecall/internal/call"
	"github.com/roleplay-ai/voicecall/internal/config"
	"github.com/roleplay-ai/voicecall/internal/conversation"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/trace"
	"github.com/roleplay-ai/voicecall/internal/transport"
)

var (
	flagConversation string
	flagUser         string
	flagToken        string
	flagBackend      string
	flagVerbose      bool

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voicecall",
	Short: "Roleplay voice-call client",
	Long: `voicecall runs voice calls and text chat against a roleplay backend.

Speech is detected by signal energy: talking opens an utterance, two
seconds of silence sends it, and the spoken reply plays back. Talking over
the reply interrupts it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		cfg = config.Load()
		if flagConversation != "" {
			cfg.ConversationID = flagConversation
		}
		if flagUser != "" {
			cfg.UserID = flagUser
		}
		if flagToken != "" {
			cfg.AccessToken = flagToken
		}
		if flagBackend != "" {
			cfg.BackendURL = flagBackend
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConversation, "conversation", "", "conversation id (default $CONVERSATION_ID)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (default $USER_ID)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "access token (default $ACCESS_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "backend base URL (default $BACKEND_URL)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(chatCmd)
}

func requireConversation() error {
	if cfg.ConversationID == "" {
		return fmt.Errorf("conversation id is required. Use --conversation or set CONVERSATION_ID")
	}
	return nil
}

func newClient() *transport.Client {
	return transport.New(transport.Config{
		BaseURL:     cfg.BackendURL,
		AccessToken: cfg.AccessToken,
		UploadPath:  cfg.UploadPath,
		Timeout:     cfg.RequestTimeout,
		HTTPClient:  &http.Client{Transport: &trace.Transport{}},
	})
}

func newPipeline() *audio.Pipeline {
	return audio.NewPipeline(audio.Config{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		MaxUtterance:    cfg.MaxUtterance,
		EnergyReference: cfg.EnergyReference,
		HTTPClient:      &http.Client{Transport: &trace.Transport{}, Timeout: cfg.RequestTimeout},
	}, &audio.PortAudio{
		InputDevice:     cfg.InputDevice,
		ExcludedDevices: cfg.ExcludedDevices,
	})
}

func newSession(client *transport.Client) *call.Session {
	return call.NewSession(
		call.Meta{ConversationID: cfg.ConversationID, UserID: cfg.UserID},
		newPipeline(),
		client.CallUploader(),
		call.Options{
			Thresholds: call.Thresholds{
				Silence:         cfg.SilenceThreshold,
				BargeInMargin:   cfg.BargeInMargin,
				SilenceDuration: cfg.SilenceDuration,
			},
			PollInterval: cfg.PollInterval,
		},
	)
}

func newChat(client *transport.Client) *conversation.Chat {
	return conversation.NewChat(client, cfg.ConversationID, cfg.UserID, cfg.DeltaFields,
		conversation.NewHistory(cfg.HistoryEntries, 32))
}

func logBreakers(client *transport.Client) {
	for _, b := range client.Breakers() {
		b.WithHook(func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		})
	}
}
