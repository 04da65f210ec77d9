// Package main provides the entry point for the identity and authentication
// provider daemon.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/provider"
	"github.com/netresearch/dirauthd/internal/status"
	"github.com/netresearch/dirauthd/internal/version"
)

const (
	shutdownTimeout    = 30 * time.Second
	healthCheckTimeout = 3 * time.Second
)

func main() {
	if len(os.Args) == 2 && os.Args[1] == "--health-check" {
		os.Exit(runHealthCheck())
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msgf("dirauthd %s starting...", version.FormatVersion())

	opts, err := options.Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration")
	}
	log.Logger = log.Logger.Level(opts.LogLevel)

	ctxVal, err := provider.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize provider context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctxVal.Start(ctx)

	statusApp := status.New(func() status.Snapshot { return snapshot(ctxVal) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	serverErr := make(chan error, 1)

	go func() {
		if err := statusApp.Listen(opts.ListenAddr); err != nil {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("status server error")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := statusApp.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down status server")
	}

	if err := ctxVal.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error during provider shutdown")
		os.Exit(1) //nolint:gocritic // Exit is intentional after shutdown error
	}

	log.Info().Msg("graceful shutdown complete")
}

// snapshot assembles a status.Snapshot from the live provider context.
func snapshot(c *provider.Context) status.Snapshot {
	return status.Snapshot{
		Online:             !c.Tracker.IsOffline(),
		WentOffline:        c.Tracker.WentOffline(),
		LastEnumRun:        c.Scheduler.LastRun(),
		MaxUserModstamp:    c.Scheduler.UserWatermark(),
		MaxGroupModstamp:   c.Scheduler.GroupWatermark(),
		ActiveChildren:     c.Auth.ActiveChildren(),
		StoreOpen:          true,
		EnumerationEnabled: c.Opts.Enumerate,
	}
}

// runHealthCheck performs an HTTP health check against the running daemon.
// Returns 0 if healthy (HTTP 200), 1 otherwise.
func runHealthCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:3000"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health/live", nil)
	if err != nil {
		return 1
	}

	client := &http.Client{}

	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return 0
	}

	return 1
}
