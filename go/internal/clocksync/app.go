// Package clocksync is the authoritative clock service. It owns every state
// transition of a game clock: it loads the stored clock, applies the clock
// arithmetic, persists the result with a new revision and hands the snapshot to
// the broadcaster.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/clock"
	"github.com/mcdev12/gameclock/go/internal/clockstore"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ClockStore defines what the app layer needs from the clock store
type ClockStore interface {
	Load(ctx context.Context, gameID uuid.UUID) (models.ClockState, error)
	Create(ctx context.Context, state models.ClockState) (models.ClockState, error)
	SaveWithNewRevision(ctx context.Context, state models.ClockState, persistDurable bool) (models.ClockState, error)
	ListRunningGameIDs(ctx context.Context) ([]uuid.UUID, error)
	ArchivedSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error)
	Recover(ctx context.Context) ([]models.ClockState, error)
	FlushPending(ctx context.Context) (int, error)
	PendingCount() int
}

// Broadcaster delivers snapshots to the players of a game.
type Broadcaster interface {
	Publish(ctx context.Context, snapshot models.Snapshot) error
}

// App handles clock business logic
type App struct {
	store       ClockStore
	broadcaster Broadcaster
	clock       clockwork.Clock
	locks       *KeyedMutex
	cfg         Config
}

// NewApp creates a new clock App
func NewApp(store ClockStore, broadcaster Broadcaster, clk clockwork.Clock, cfg Config) *App {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &App{
		store:       store,
		broadcaster: broadcaster,
		clock:       clk,
		locks:       NewKeyedMutex(),
		cfg:         cfg,
	}
}

// transition computes the next state from the loaded one. Returning false leaves
// the clock untouched.
type transition func(state models.ClockState, now int64) (next models.ClockState, changed bool)

// StartClock creates the clock of a game with the full budget on both sides.
func (a *App) StartClock(ctx context.Context, req StartClockRequest) (models.Snapshot, error) {
	if err := validateStartClockRequest(req); err != nil {
		return models.Snapshot{}, fmt.Errorf("validation failed: %w", err)
	}

	ctx, cancel := a.opContext(ctx)
	defer cancel()
	unlock := a.locks.Lock(req.GameID)
	defer unlock()

	var (
		created   models.ClockState
		attempted *models.ClockState
	)
	err := a.withRetry(ctx, req.GameID, "start_clock", func(ctx context.Context) error {
		state := clock.New(req.GameID, req.InitialMs, req.IncrementMs, req.FirstToMove, a.now())
		var err error
		created, err = a.store.Create(ctx, state)
		switch {
		case errors.Is(err, clockstore.ErrDurablePending):
			a.logDurablePending(created, err)
			return nil
		case errors.Is(err, clockstore.ErrAlreadyExists) && attempted != nil:
			// An earlier attempt may have created the clock before failing.
			existing, loadErr := a.store.Load(ctx, req.GameID)
			if loadErr == nil && existing.Revision == 1 && existing.SameAs(*attempted) {
				created = existing
				return nil
			}
		case err != nil && retriable(err):
			attempted = &state
		}
		return err
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to start clock: %w", err)
	}

	log.Info().
		Str("game_id", req.GameID.String()).
		Int64("initial_ms", req.InitialMs).
		Int64("increment_ms", req.IncrementMs).
		Str("first_to_move", string(created.Running)).
		Msg("clock started")

	snap := models.NewSnapshot(created)
	a.publish(ctx, snap)
	return snap, nil
}

// RecordMove hands the clock to the opponent of mover. A move by the side whose
// clock is not running leaves the clock unchanged.
func (a *App) RecordMove(ctx context.Context, gameID uuid.UUID, mover models.Side) (models.Snapshot, error) {
	if !mover.IsPlayer() {
		return models.Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidSide, mover)
	}

	return a.mutate(ctx, gameID, "record_move", true, func(state models.ClockState, now int64) (models.ClockState, bool) {
		if state.IsOver() || state.Running != mover {
			log.Debug().
				Str("game_id", gameID.String()).
				Str("mover", string(mover)).
				Str("running", string(state.Running)).
				Msg("ignoring out-of-turn move")
			return state, false
		}
		return clock.OnMove(state, mover, now), true
	})
}

// PauseGame stops both clocks. Pausing a paused or finished game is a no-op.
func (a *App) PauseGame(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	return a.mutate(ctx, gameID, "pause_game", true, func(state models.ClockState, now int64) (models.ClockState, bool) {
		if !state.IsRunning() {
			return state, false
		}
		return clock.Pause(state, now), true
	})
}

// ResumeGame starts sideToMove's clock. Only a paused game can be resumed.
func (a *App) ResumeGame(ctx context.Context, gameID uuid.UUID, sideToMove models.Side) (models.Snapshot, error) {
	if !sideToMove.IsPlayer() {
		return models.Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidSide, sideToMove)
	}

	return a.mutate(ctx, gameID, "resume_game", true, func(state models.ClockState, now int64) (models.ClockState, bool) {
		if state.IsOver() || state.IsRunning() {
			return state, false
		}
		next := clock.Resume(state, sideToMove, now)
		return next, next.Running != state.Running
	})
}

// EndGame freezes the clock with a reason decided by the game lifecycle.
func (a *App) EndGame(ctx context.Context, gameID uuid.UUID, reason models.EndReason) (models.Snapshot, error) {
	if !reason.Valid() {
		return models.Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	return a.mutate(ctx, gameID, "end_game", true, func(state models.ClockState, now int64) (models.ClockState, bool) {
		if state.IsOver() {
			return state, false
		}
		return clock.End(state, reason, now), true
	})
}

// GetSnapshot returns the clock as of now without writing, unless the running side
// turns out to have run out of time, in which case the flag is persisted and
// published.
func (a *App) GetSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	var state models.ClockState
	err := a.withRetry(ctx, gameID, "get_snapshot", func(ctx context.Context) error {
		var err error
		state, err = a.store.Load(ctx, gameID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if snap, archErr := a.store.ArchivedSnapshot(ctx, gameID); archErr == nil {
				return snap, nil
			}
		}
		return models.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}

	view := clock.ApplyElapsed(state, a.now())
	if !view.IsOver() || state.IsOver() {
		return models.NewSnapshot(view), nil
	}

	return a.mutate(ctx, gameID, "get_snapshot_flag", true, func(state models.ClockState, now int64) (models.ClockState, bool) {
		next := clock.ApplyElapsed(state, now)
		return next, next.IsOver() && !state.IsOver()
	})
}

// Tick charges the running side of one game for the time since its last write.
// Visible changes are written to the fast store only; a flag is written through.
func (a *App) Tick(ctx context.Context, gameID uuid.UUID) (TickResult, error) {
	result := TickIdle
	_, err := a.mutateWith(ctx, gameID, "tick", func(state models.ClockState, now int64) (models.ClockState, bool, bool) {
		result = TickIdle
		if !state.IsRunning() {
			return state, false, false
		}
		next := clock.ApplyElapsed(state, now)
		if next.VisibleEqual(state) {
			return state, false, false
		}
		if next.IsOver() {
			result = TickFlagged
			return next, true, true
		}
		result = TickUpdated
		return next, true, false
	})
	if err != nil {
		return TickIdle, err
	}
	return result, nil
}

// RunningGameIDs lists the games the heartbeat has to visit.
func (a *App) RunningGameIDs(ctx context.Context) ([]uuid.UUID, error) {
	return a.store.ListRunningGameIDs(ctx)
}

// FlushPending retries durable writes that failed earlier.
func (a *App) FlushPending(ctx context.Context) (int, error) {
	return a.store.FlushPending(ctx)
}

// PendingCount returns how many games wait for a durable write.
func (a *App) PendingCount() int {
	return a.store.PendingCount()
}

// Recover rebuilds the fast store after a restart and republishes every clock it
// had to rewrite, so subscribers converge on the recovered revision.
func (a *App) Recover(ctx context.Context) (int, error) {
	recovered, err := a.store.Recover(ctx)
	for _, state := range recovered {
		a.publish(ctx, models.NewSnapshot(state))
	}
	if err != nil {
		return len(recovered), fmt.Errorf("failed to recover clocks: %w", err)
	}

	log.Info().Int("recovered", len(recovered)).Msg("clock store recovered")
	return len(recovered), nil
}

func (a *App) mutate(ctx context.Context, gameID uuid.UUID, op string, persistDurable bool, fn transition) (models.Snapshot, error) {
	return a.mutateWith(ctx, gameID, op, func(state models.ClockState, now int64) (models.ClockState, bool, bool) {
		next, changed := fn(state, now)
		return next, changed, persistDurable
	})
}

// mutateWith runs load, compute and persist under the game's lock, retrying the
// whole sequence from a fresh load on transient store errors.
func (a *App) mutateWith(
	ctx context.Context,
	gameID uuid.UUID,
	op string,
	fn func(state models.ClockState, now int64) (next models.ClockState, changed, persistDurable bool),
) (models.Snapshot, error) {
	ctx, cancel := a.opContext(ctx)
	defer cancel()
	unlock := a.locks.Lock(gameID)
	defer unlock()

	var (
		result    models.ClockState
		written   bool
		attempted *models.ClockState
	)
	err := a.withRetry(ctx, gameID, op, func(ctx context.Context) error {
		state, err := a.store.Load(ctx, gameID)
		if err != nil {
			return err
		}

		// A failed save may still have landed; if so it is this operation's result.
		if attempted != nil && state.Revision == attempted.Revision+1 && state.SameAs(*attempted) {
			result, written = state, true
			return nil
		}
		attempted = nil

		next, changed, persistDurable := fn(state, a.now())
		if !changed {
			result, written = state, false
			return nil
		}

		saved, err := a.store.SaveWithNewRevision(ctx, next, persistDurable)
		if err != nil && !errors.Is(err, clockstore.ErrDurablePending) {
			if retriable(err) && !errors.Is(err, clockstore.ErrRevisionConflict) {
				attempted = &next
			}
			return err
		}
		if err != nil {
			a.logDurablePending(saved, err)
		}
		result, written = saved, true
		return nil
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	snap := models.NewSnapshot(result)
	if written {
		log.Debug().
			Str("game_id", gameID.String()).
			Str("op", op).
			Uint64("revision", result.Revision).
			Str("running", string(result.Running)).
			Str("type", string(snap.Type)).
			Msg("clock updated")
		a.publish(ctx, snap)
	}
	return snap, nil
}

// withRetry retries fn with linear backoff while it fails with a retriable store
// error and the operation's deadline allows it.
func (a *App) withRetry(ctx context.Context, gameID uuid.UUID, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil || !retriable(err) {
			return err
		}
		if attempt == a.cfg.MaxAttempts {
			break
		}

		delay := a.cfg.RetryBackoff * time.Duration(attempt)
		log.Warn().
			Err(err).
			Str("game_id", gameID.String()).
			Str("op", op).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("clock store write failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
		case <-a.clock.After(delay):
		}
	}
	return err
}

func (a *App) publish(ctx context.Context, snap models.Snapshot) {
	if a.broadcaster == nil {
		return
	}
	if err := a.broadcaster.Publish(ctx, snap); err != nil {
		log.Error().
			Err(err).
			Str("game_id", snap.GameID.String()).
			Uint64("revision", snap.Revision).
			Msg("failed to publish clock snapshot")
	}
}

func (a *App) logDurablePending(state models.ClockState, err error) {
	log.Warn().
		Err(err).
		Str("game_id", state.GameID.String()).
		Uint64("revision", state.Revision).
		Msg("clock accepted, durable write pending")
}

func (a *App) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.OpTimeout)
}

func (a *App) now() int64 {
	return clock.FromTime(a.clock.Now())
}

func validateStartClockRequest(req StartClockRequest) error {
	if req.GameID == uuid.Nil {
		return fmt.Errorf("%w: game id is required", ErrInvalidRequest)
	}
	if req.InitialMs <= 0 {
		return fmt.Errorf("%w: initial time must be positive", ErrInvalidRequest)
	}
	if req.IncrementMs < 0 {
		return fmt.Errorf("%w: increment cannot be negative", ErrInvalidRequest)
	}
	if !req.FirstToMove.IsPlayer() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, req.FirstToMove)
	}
	return nil
}
