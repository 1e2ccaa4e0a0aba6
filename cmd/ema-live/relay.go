package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/koscakluka/ema-live/core/relay/wsrelay"
)

var (
	relayAddr  string
	relayRate  float64
	relayBurst int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Meeting relay commands",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket meeting relay",
	Args:  cobra.NoArgs,
	RunE:  runRelay,
}

func init() {
	relayServeCmd.Flags().StringVar(&relayAddr, "addr", ":8787", "listen address")
	relayServeCmd.Flags().Float64Var(&relayRate, "rate", float64(wsrelay.DefaultMessageRate), "messages per second allowed per member")
	relayServeCmd.Flags().IntVar(&relayBurst, "burst", wsrelay.DefaultMessageBurst, "message burst allowed per member")
	relayCmd.AddCommand(relayServeCmd)
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := wsrelay.NewHub(wsrelay.WithRateLimit(rate.Limit(relayRate), relayBurst))
	defer hub.Close()

	server := &http.Server{
		Addr:              relayAddr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s\n", relayAddr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
