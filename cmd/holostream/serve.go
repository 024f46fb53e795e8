package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RameeshKp/Holostream/internal/adapters/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API for a local UI",
	Long: `Serve exposes the call engine over a local HTTP API: REST endpoints
for the call lifecycle plus a WebSocket feed of call events. A UI
process drives calls through it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	ctl := httpapi.NewCallController(func() httpapi.Call { return eng.newSession() })
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.SetupRouter(ctx, cfg, ctl),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Holostream engine started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	ctl.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
