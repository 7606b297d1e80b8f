package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/agent"
	"github.com/triagehq/triage/internal/agent/engines"
	"github.com/triagehq/triage/internal/approval"
	"github.com/triagehq/triage/internal/config"
	"github.com/triagehq/triage/internal/server"
	"github.com/triagehq/triage/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("TRIAGE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("TRIAGE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Session store with durable on-disk state.
	store, err := session.NewStore(session.StoreOptions{
		DataDir:          cfg.Session.DataDir,
		SaveTimeout:      cfg.Session.SaveTimeout,
		AutoSaveInterval: cfg.Session.AutoSaveInterval,
		FlushTimeout:     cfg.Session.FlushTimeout,
		SweepInterval:    cfg.Session.SweepInterval,
		MaxAge:           cfg.Session.MaxAge,
	})
	if err != nil {
		return err
	}

	// Approval correlator for tool-permission handshakes.
	approvals := approval.NewCorrelator(cfg.Approval.Timeout)

	// Engine registry. The loopback engine ships in-tree; production
	// engines register here.
	registry := agent.NewRegistry()
	registry.Register("loopback", engines.NewLoopback)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Process-wide background sweeps, independent of any connection.
	go store.RunAutoSave(ctx)
	go store.RunAgeSweep(ctx)
	go approvals.RunSweeper(ctx, cfg.Approval.SweepInterval)

	srv := server.New(cfg, store, registry, approvals)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("engine", cfg.Chat.EngineType).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
