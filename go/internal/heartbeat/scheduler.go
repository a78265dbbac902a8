// Package heartbeat periodically charges the running clocks so that players see
// time move and flags fall even when nobody moves.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/broadcast"
	"github.com/mcdev12/gameclock/go/internal/clocksync"
	"github.com/rs/zerolog/log"
)

// ClockApp defines what the scheduler needs from the clock service
type ClockApp interface {
	RunningGameIDs(ctx context.Context) ([]uuid.UUID, error)
	Tick(ctx context.Context, gameID uuid.UUID) (clocksync.TickResult, error)
	FlushPending(ctx context.Context) (int, error)
	PendingCount() int
}

type Config struct {
	Interval    time.Duration
	Workers     int
	TickTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		Workers:     8,
		TickTimeout: 1500 * time.Millisecond,
	}
}

// SweepResult summarizes one pass over the running games.
type SweepResult struct {
	Games   int
	Skipped int
	Updated int
	Flagged int
	Failed  int
}

// Scheduler ticks every running clock on a fixed interval through a worker pool.
type Scheduler struct {
	app        ClockApp
	clock      clockwork.Clock
	metrics    broadcast.MetricsCollector
	cfg        Config
	instanceID string

	workCh chan uuid.UUID

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewScheduler creates a heartbeat scheduler.
func NewScheduler(app ClockApp, clk clockwork.Clock, metrics broadcast.MetricsCollector, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if metrics == nil {
		metrics = &broadcast.NoOpMetricsCollector{}
	}
	return &Scheduler{
		app:        app,
		clock:      clk,
		metrics:    metrics,
		cfg:        cfg,
		instanceID: uuid.New().String()[:8], // short ID for logging
		workCh:     make(chan uuid.UUID, cfg.Workers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Run ticks until ctx is cancelled, then waits for the workers to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.cfg.Workers).
		Dur("interval", s.cfg.Interval).
		Msg("heartbeat scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", s.instanceID).Msg("heartbeat scheduler shutting down")
			close(s.workCh)
			wg.Wait()
			cancelWorkers()
			log.Info().Str("instance", s.instanceID).Msg("all heartbeat workers shut down")
			return nil
		case <-ticker.Chan():
			s.enqueueRunning(ctx)
			s.flushPending(ctx)
		}
	}
}

// RunOnce ticks every running game synchronously and retries pending durable writes.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	start := s.clock.Now()

	ids, err := s.app.RunningGameIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Games: len(ids)}
	for _, id := range ids {
		if !s.claim(id) {
			result.Skipped++
			continue
		}
		tick, err := s.tick(ctx, id)
		s.release(id)

		switch {
		case err != nil:
			result.Failed++
		case tick == clocksync.TickUpdated:
			result.Updated++
		case tick == clocksync.TickFlagged:
			result.Flagged++
		}
	}

	s.flushPending(ctx)
	s.metrics.RecordSweep(len(ids), s.clock.Since(start))
	return result, nil
}

func (s *Scheduler) enqueueRunning(ctx context.Context) {
	start := s.clock.Now()

	ids, err := s.app.RunningGameIDs(ctx)
	if err != nil {
		log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to list running clocks")
		return
	}

	for _, id := range ids {
		if !s.claim(id) {
			log.Debug().Str("game_id", id.String()).Msg("clock still being ticked, skipping")
			continue
		}
		select {
		case s.workCh <- id:
		default:
			s.release(id)
			log.Warn().Str("game_id", id.String()).Msg("heartbeat work channel full")
		}
	}

	s.metrics.RecordSweep(len(ids), s.clock.Since(start))
}

func (s *Scheduler) flushPending(ctx context.Context) {
	if s.app.PendingCount() > 0 {
		flushed, err := s.app.FlushPending(ctx)
		if err != nil {
			log.Warn().Err(err).Int("flushed", flushed).Msg("durable catch-up incomplete")
		} else if flushed > 0 {
			log.Info().Int("flushed", flushed).Msg("durable writes caught up")
		}
	}
	s.metrics.RecordDurablePending(s.app.PendingCount())
}

// worker processes game ids from the work channel
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for id := range s.workCh {
		if _, err := s.tick(ctx, id); err != nil {
			log.Error().
				Err(err).
				Str("game_id", id.String()).
				Str("instance", s.instanceID).
				Int("worker_id", workerID).
				Msg("heartbeat tick failed")
		}
		s.release(id)
	}
}

func (s *Scheduler) tick(ctx context.Context, id uuid.UUID) (clocksync.TickResult, error) {
	start := s.clock.Now()
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	result, err := s.app.Tick(ctx, id)
	if err != nil {
		s.metrics.RecordTick("error", s.clock.Since(start))
		return result, err
	}
	s.metrics.RecordTick(result.String(), s.clock.Since(start))

	if result == clocksync.TickFlagged {
		log.Info().
			Str("game_id", id.String()).
			Str("instance", s.instanceID).
			Msg("clock flagged on heartbeat")
	}
	return result, nil
}

// claim marks a game in flight. It reports false when another worker holds it.
func (s *Scheduler) claim(id uuid.UUID) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id uuid.UUID) {
	s.inFlightMu.Lock()
	delete(s.inFlight, id)
	s.inFlightMu.Unlock()
}
