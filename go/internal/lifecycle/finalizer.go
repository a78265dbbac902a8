// Package lifecycle archives clocks of finalized games.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/gameclock/go/internal/clockstore"
	"github.com/rs/zerolog/log"
)

type FinalizerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed notifications
	PingInterval     time.Duration
	// GracePeriod is how long a finished clock stays live before the poll archives it.
	GracePeriod time.Duration
	BatchSize   int
}

func DefaultFinalizerConfig() FinalizerConfig {
	return FinalizerConfig{
		NotifyChannel:    "game_finalized",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		GracePeriod:      10 * time.Minute,
		BatchSize:        100,
	}
}

// Archiver is the part of the clock store the finalizer drives.
type Archiver interface {
	Archive(ctx context.Context, gameID uuid.UUID) error
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Notifier delivers NOTIFY payloads. *pq.Listener satisfies it. A nil notification
// means the connection was re-established and notifications may have been lost.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewPQNotifier listens on cfg.NotifyChannel.
func NewPQNotifier(cfg FinalizerConfig) (*pq.Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return l, nil
}

// Finalizer archives a game's clock when the game is finalized, and periodically
// sweeps finished clocks whose notification was missed.
type Finalizer struct {
	archiver Archiver
	notifier Notifier
	clock    clockwork.Clock
	cfg      FinalizerConfig
}

func NewFinalizer(archiver Archiver, notifier Notifier, clk clockwork.Clock, cfg FinalizerConfig) *Finalizer {
	return &Finalizer{
		archiver: archiver,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
	}
}

// Start blocks until ctx is cancelled, then closes the notifier.
func (f *Finalizer) Start(ctx context.Context) error {
	log.Info().
		Str("channel", f.cfg.NotifyChannel).
		Dur("ping_interval", f.cfg.PingInterval).
		Dur("fallback_interval", f.cfg.FallbackInterval).
		Msg("finalizer started")

	pingTicker := f.clock.NewTicker(f.cfg.PingInterval)
	fallbackTicker := f.clock.NewTicker(f.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	notes := f.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("finalizer shutting down")
			return f.notifier.Close()
		case note := <-notes:
			if note == nil {
				// Reconnected; anything sent meanwhile is picked up by a sweep
				if _, err := f.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("failed to sweep after reconnect")
				}
				continue
			}
			if err := f.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if _, err := f.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("failed to sweep finished clocks")
			}
		case <-pingTicker.Chan():
			if err := f.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification archives the game named by the payload.
func (f *Finalizer) handleNotification(ctx context.Context, extra string) error {
	gameID, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid game id in notification: %w", err)
	}
	_, err = f.archive(ctx, gameID)
	return err
}

// Sweep archives finished clocks older than the grace period and returns how many
// were archived.
func (f *Finalizer) Sweep(ctx context.Context) (int, error) {
	cutoff := f.clock.Now().Add(-f.cfg.GracePeriod)
	ids, err := f.archiver.ListFinishedBefore(ctx, cutoff, f.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list finished clocks: %w", err)
	}

	archived := 0
	for _, id := range ids {
		ok, err := f.archive(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("game_id", id.String()).Msg("failed to archive clock")
			continue
		}
		if ok {
			archived++
		}
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("swept finished clocks")
	}
	return archived, nil
}

// archive reports false for clocks that are gone or still running.
func (f *Finalizer) archive(ctx context.Context, gameID uuid.UUID) (bool, error) {
	err := f.archiver.Archive(ctx, gameID)
	switch {
	case err == nil:
		log.Info().Str("game_id", gameID.String()).Msg("archived clock")
		return true, nil
	case errors.Is(err, clockstore.ErrNotFound):
		log.Debug().Str("game_id", gameID.String()).Msg("clock already archived")
		return false, nil
	case errors.Is(err, clockstore.ErrNotOver):
		log.Warn().Str("game_id", gameID.String()).Msg("finalized game still has a live clock, not archiving")
		return false, nil
	default:
		return false, err
	}
}
