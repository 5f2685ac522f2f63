package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DorianMazur/rn-devtools/internal/adapters/storage/memory"
	cfgpkg "github.com/DorianMazur/rn-devtools/internal/infrastructure/config"
	httpapi "github.com/DorianMazur/rn-devtools/internal/infrastructure/httpapi"
	obs "github.com/DorianMazur/rn-devtools/internal/infrastructure/observability"
	"github.com/DorianMazur/rn-devtools/internal/infrastructure/tap"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := cfgpkg.Load(obs.Name, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtools-relay:", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtools-relay:", err)
		os.Exit(1)
	}
	if err := run(ctx, cfg, ln); err != nil {
		fmt.Fprintln(os.Stderr, "devtools-relay:", err)
		os.Exit(1)
	}
}

// run serves the relay on ln until ctx is cancelled.
func run(ctx context.Context, cfg cfgpkg.Config, ln net.Listener) error {
	logger, logFile := obs.NewLoggerWithFile(cfg.LogLevel, cfg.LogFile)
	defer logFile.Close()
	logger.Info().Str("addr", ln.Addr().String()).Str("commit", obs.Commit).Msg("starting devtools-relay")

	metrics := obs.NewMetrics()
	registry := memory.NewRegistry()

	var relayTap usecase.Tap
	if cfg.NATSURL != "" {
		t, nc, err := tap.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		relayTap = t
		logger.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("nats tap enabled")
	}

	hub := httpapi.NewHub(httpapi.HubOptions{
		Logger:        logger,
		Metrics:       metrics,
		PingInterval:  cfg.PingInterval,
		PingTimeout:   cfg.PingTimeout,
		MaxPayload:    cfg.MaxPayloadBytes,
		SendQueueSize: cfg.SendQueueSize,
		EventsPerSec:  cfg.MaxEventsPerSec,
		EventBurst:    cfg.EventBurst,
	})
	relay := usecase.NewRelay(registry, hub, usecase.RelayOptions{
		Logger:           logger,
		Tap:              relayTap,
		Metrics:          metrics,
		OfflineTTL:       cfg.OfflineDeviceTTL,
		EvictionInterval: cfg.EvictionInterval,
	})
	hub.SetRelay(relay)

	srv := &http.Server{
		Handler:           httpapi.NewRouter(&httpapi.Deps{Cfg: cfg, Logger: logger, Metrics: metrics, Hub: hub, Registry: registry}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(relayCtx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		// websockets are hijacked and not covered by Shutdown
		if err := hub.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("hub shutdown error")
		}
		stopRelay()
		return nil
	})

	err := g.Wait()
	logger.Info().Msg("devtools-relay stopped")
	return err
}
