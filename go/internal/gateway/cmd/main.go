package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/gameclock/go/internal/broadcast"
	"github.com/mcdev12/gameclock/go/internal/clocksync/clocksyncv1"
	"github.com/mcdev12/gameclock/go/internal/config"
	"github.com/mcdev12/gameclock/go/internal/gateway"
	"github.com/mcdev12/gameclock/go/internal/natsutil"
	"github.com/rs/cors"
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

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.ApplyLogLevel()

	instance, err := os.Hostname()
	if err != nil {
		instance = fmt.Sprintf("pid-%d", os.Getpid())
	}

	log.Info().
		Str("clock_service_url", cfg.Gateway.ClockServiceURL).
		Str("nats_url", cfg.NATS.URL).
		Str("port", cfg.Gateway.Port).
		Str("instance", instance).
		Msg("starting clock gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS
	natsCfg := natsutil.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "clock-gateway-" + instance
	nc, js, err := natsutil.Connect(natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Drain()

	// The gateway may start before the clock server has created the stream
	if err := broadcast.EnsureStream(ctx, js, broadcast.DefaultJetStreamConfig()); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure snapshot stream")
	}

	// Setup HTTP client for Connect
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	clockClient := clocksyncv1.NewClockServiceClient(httpClient, cfg.Gateway.ClockServiceURL)

	// Create gateway configuration, one consumer per instance
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.ConsumerName = fmt.Sprintf("%s-%s", cfg.Gateway.ConsumerName, instance)

	gatewayService, err := gateway.NewService(ctx, gatewayConfig, js, gateway.NewClockServiceSource(clockClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	// Register gateway routes (WebSocket and REST)
	gatewayService.RegisterRoutes(mux)

	// Add health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Add service info
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service":      "clock-gateway",
			"instance":     instance,
			"connections":  stats.TotalConnections,
			"active_games": stats.ActiveGames,
		})
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Gateway.Port),
		Handler:     c.Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start gateway service (includes event consumer and connection manager)
	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel service context to stop gateway service
	cancel()

	log.Info().Msg("clock gateway shutdown complete")
}
