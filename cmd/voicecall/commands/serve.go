package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local bridge for the UI",
	Long: `Serve the HTTP and WebSocket bridge the UI uses to start and end
calls, follow call state and chat over text.

Endpoints:
  GET  /ws                  call events and text chat
  GET  /api/call            call state
  POST /api/call/start      start a call
  POST /api/call/hangup     end the call
  POST /api/call/restart    re-open the audio devices
  GET  /api/history         recent messages (?limit=, ?sync=true)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default $HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireConversation(); err != nil {
		return err
	}
	addr := cfg.HTTPAddr
	if flagAddr != "" {
		addr = flagAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newClient()
	logBreakers(client)
	chat := newChat(client)
	if err := chat.Sync(ctx); err != nil {
		slog.Warn("could not load conversation history", "error", err)
	}

	srv := server.New(func() server.Call { return newSession(client) }, chat).
		WithRestartRetry(resilience.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  250 * time.Millisecond,
			MaxDelay:   2 * time.Second,
		})

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge starting", "http", addr, "backend", cfg.BackendURL, "conversation_id", cfg.ConversationID)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = srv.Close()
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		slog.Error("call shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
