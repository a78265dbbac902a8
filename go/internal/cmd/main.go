package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mcdev12/gameclock/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, watcher := loadConfig()
	if watcher != nil {
		defer watcher.Close()
	}
	cfg.ApplyLogLevel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clockwork.NewRealClock()

	services, cleanup, err := setupServices(ctx, cfg, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	defer cleanup()

	// Durable store wins after a crash; republish whatever was re-seeded
	recovered, err := services.App.Recover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to recover clocks")
	} else {
		log.Info().Int("recovered", recovered).Msg("clock recovery complete")
	}

	go func() {
		if err := services.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("heartbeat scheduler failed")
		}
	}()

	if services.Finalizer != nil {
		go func() {
			if err := services.Finalizer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("finalizer failed")
			}
		}()
	}

	server := setupServer(services, cfg.Server.Port)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("clock server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the heartbeat and the finalizer
	cancel()

	// Last chance to get pending moves into the durable store
	if flushed, err := services.App.FlushPending(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pending", services.App.PendingCount()).Msg("failed to flush pending durable writes")
	} else if flushed > 0 {
		log.Info().Int("flushed", flushed).Msg("flushed pending durable writes")
	}

	log.Info().Msg("clock server shutdown complete")
}

// loadConfig reads GAMECLOCK_CONFIG and keeps watching it when set.
func loadConfig() (*config.Config, *config.Watcher) {
	path := os.Getenv(config.EnvConfigPath)
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		return cfg, nil
	}

	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		cfg.ApplyLogLevel()
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	return watcher.Config(), watcher
}
