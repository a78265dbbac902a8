// Package clockstore owns the authoritative clock record of every game.
//
// A fast key-value layer is the primary copy and is written on every change. A
// slower durable store is written through on important transitions and is used to
// rebuild the fast layer after a crash. On cold start the durable copy wins (see
// Recover), since it is the last durably committed transition.
package clockstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/clock"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// FastStore is the low-latency primary copy of clock records.
type FastStore interface {
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error)
	// CompareAndSwap writes state only if the stored revision equals baseRevision.
	// A baseRevision of 0 means the record must not exist yet.
	CompareAndSwap(ctx context.Context, state models.ClockState, baseRevision uint64) error
	// Put writes state unconditionally. Only used when re-seeding from the durable store.
	Put(ctx context.Context, state models.ClockState) error
	Delete(ctx context.Context, gameID uuid.UUID) error
	SetRunning(ctx context.Context, gameID uuid.UUID, running bool) error
	ListRunning(ctx context.Context) ([]uuid.UUID, error)
}

// DurableStore is the crash-recovery copy of clock records.
type DurableStore interface {
	// Get returns ErrNotFound when the game has no row.
	Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error)
	// Upsert never replaces a row with a lower or equal revision.
	Upsert(ctx context.Context, state models.ClockState) error
	ListActive(ctx context.Context) ([]models.ClockState, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	Archive(ctx context.Context, gameID uuid.UUID, final models.Snapshot) error
	ArchivedSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error)
}

// RevisionSource reports the highest revision ever handed out for a game, or 0.
type RevisionSource interface {
	LastRevision(ctx context.Context, gameID uuid.UUID) (uint64, error)
}

// Store composes the fast and durable layers behind the load/save contract.
type Store struct {
	fast      FastStore
	durable   DurableStore
	clock     clockwork.Clock
	revisions RevisionSource

	pendingMu sync.Mutex
	pending   map[uuid.UUID]struct{}
	// unindexed holds games whose running-index write failed after their record
	// was written, with the running flag the index should have.
	unindexed map[uuid.UUID]bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to bound revisions of a lost fast copy.
func WithClock(clk clockwork.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithRevisionSource sets where the last published revision of a game is read from
// when its fast copy is gone.
func WithRevisionSource(src RevisionSource) Option {
	return func(s *Store) { s.revisions = src }
}

// NewStore creates a layered clock store.
func NewStore(fast FastStore, durable DurableStore, opts ...Option) *Store {
	s := &Store{
		fast:      fast,
		durable:   durable,
		clock:     clockwork.NewRealClock(),
		pending:   make(map[uuid.UUID]struct{}),
		unindexed: make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the fast copy of a game's clock, falling back to the durable copy
// and re-seeding the fast layer on a miss.
func (s *Store) Load(ctx context.Context, gameID uuid.UUID) (models.ClockState, error) {
	state, err := s.fast.Get(ctx, gameID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.ClockState{}, err
	}

	durable, err := s.durable.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.ClockState{}, err
		}
		return models.ClockState{}, fmt.Errorf("%w: load durable clock: %w", ErrStoreUnavailable, err)
	}

	state = s.restoreLost(ctx, durable)
	if state.Revision != durable.Revision {
		if err := s.writeThrough(ctx, state); err != nil && !errors.Is(err, ErrDurablePending) {
			return models.ClockState{}, err
		}
	}

	// Another loader may have re-seeded first; its copy wins.
	if err := s.compareAndSwap(ctx, state, 0); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.fast.Get(ctx, gameID)
		}
		return models.ClockState{}, err
	}
	s.index(ctx, state)

	log.Info().
		Str("game_id", gameID.String()).
		Uint64("durable_revision", durable.Revision).
		Uint64("revision", state.Revision).
		Msg("re-seeded fast store from durable copy")

	return state, nil
}

// Create persists the first revision of a new game's clock to both layers.
func (s *Store) Create(ctx context.Context, state models.ClockState) (models.ClockState, error) {
	state.Revision = 1

	if err := s.compareAndSwap(ctx, state, 0); err != nil {
		return models.ClockState{}, err
	}
	s.index(ctx, state)

	return state, s.writeThrough(ctx, state)
}

// SaveWithNewRevision bumps the revision of state and writes it to the fast layer,
// and to the durable layer when persistDurable is set.
//
// If only the durable write fails, the new state is returned together with an error
// wrapping ErrDurablePending: the change is visible and the durable copy catches up
// on the next FlushPending.
func (s *Store) SaveWithNewRevision(ctx context.Context, state models.ClockState, persistDurable bool) (models.ClockState, error) {
	next := state
	next.Revision = state.Revision + 1

	if err := s.compareAndSwap(ctx, next, state.Revision); err != nil {
		return models.ClockState{}, err
	}
	s.index(ctx, next)

	if !persistDurable {
		return next, nil
	}
	return next, s.writeThrough(ctx, next)
}

// compareAndSwap writes state to the fast layer. When the write fails in a way that
// leaves its outcome unknown, the fast copy is read back: if it already holds state,
// the write landed.
func (s *Store) compareAndSwap(ctx context.Context, state models.ClockState, baseRevision uint64) error {
	err := s.fast.CompareAndSwap(ctx, state, baseRevision)
	if err == nil || errors.Is(err, ErrRevisionConflict) || errors.Is(err, ErrAlreadyExists) {
		return err
	}

	current, getErr := s.fast.Get(ctx, state.GameID)
	if getErr == nil && current.Revision == state.Revision && current.SameAs(state) {
		log.Warn().
			Err(err).
			Str("game_id", state.GameID.String()).
			Uint64("revision", state.Revision).
			Msg("fast write reported failure but landed")
		return nil
	}
	return err
}

// ListRunningGameIDs returns games whose clock is currently ticking.
func (s *Store) ListRunningGameIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.fast.ListRunning(ctx)
	if err != nil {
		return nil, err
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.unindexed) == 0 {
		return ids, nil
	}

	out := make([]uuid.UUID, 0, len(ids)+len(s.unindexed))
	for _, id := range ids {
		if running, ok := s.unindexed[id]; ok && !running {
			continue
		}
		out = append(out, id)
	}
	for id, running := range s.unindexed {
		if running && !slices.Contains(ids, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// ListFinishedBefore returns finished games last written before cutoff.
func (s *Store) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return s.durable.ListFinishedBefore(ctx, cutoff, limit)
}

// Archive moves a finished clock out of both layers, keeping its final snapshot.
func (s *Store) Archive(ctx context.Context, gameID uuid.UUID) error {
	state, err := s.Load(ctx, gameID)
	if err != nil {
		return err
	}
	if !state.IsOver() {
		return fmt.Errorf("archive %s: %w", gameID, ErrNotOver)
	}

	// The durable row must reflect the terminal transition before it is archived.
	if err := s.durable.Upsert(ctx, state); err != nil {
		return fmt.Errorf("%w: final durable write: %w", ErrStoreUnavailable, err)
	}
	if err := s.durable.Archive(ctx, gameID, models.NewSnapshot(state)); err != nil {
		return fmt.Errorf("%w: archive durable clock: %w", ErrStoreUnavailable, err)
	}
	if err := s.fast.SetRunning(ctx, gameID, false); err != nil {
		return err
	}
	if err := s.fast.Delete(ctx, gameID); err != nil {
		return err
	}

	s.forget(gameID)
	return nil
}

// ArchivedSnapshot returns the final snapshot of a game whose clock was archived.
func (s *Store) ArchivedSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	snap, err := s.durable.ArchivedSnapshot(ctx, gameID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Snapshot{}, fmt.Errorf("%w: load archived clock: %w", ErrStoreUnavailable, err)
	}
	return snap, err
}

// Recover re-seeds the fast layer from every active durable row whose revision
// differs from the fast copy, and returns the re-seeded states.
//
// The durable row wins, but revisions and LastServerMs never move backwards: the
// durable state is charged up to the fast copy's timestamp and continues numbering
// after the fast copy's revision.
func (s *Store) Recover(ctx context.Context) ([]models.ClockState, error) {
	active, err := s.durable.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list active clocks: %w", ErrStoreUnavailable, err)
	}

	var recovered []models.ClockState
	for _, durable := range active {
		fast, err := s.fast.Get(ctx, durable.GameID)
		hasFast := err == nil
		if hasFast && fast.Revision == durable.Revision {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return recovered, err
		}

		var state models.ClockState
		if hasFast {
			state = reconcile(durable, fast)
		} else {
			state = s.restoreLost(ctx, durable)
		}
		if state.Revision != durable.Revision {
			if err := s.durable.Upsert(ctx, state); err != nil {
				return recovered, fmt.Errorf("%w: write recovered clock: %w", ErrStoreUnavailable, err)
			}
		}
		if err := s.reseed(ctx, state); err != nil {
			return recovered, err
		}
		recovered = append(recovered, state)

		log.Info().
			Str("game_id", state.GameID.String()).
			Uint64("durable_revision", durable.Revision).
			Uint64("fast_revision", fast.Revision).
			Uint64("revision", state.Revision).
			Msg("recovered clock from durable store")
	}

	return recovered, nil
}

func reconcile(durable, fast models.ClockState) models.ClockState {
	state := durable
	if fast.LastServerMs > state.LastServerMs {
		state = clock.ApplyElapsed(state, fast.LastServerMs)
		state.LastServerMs = fast.LastServerMs
	}
	if fast.Revision >= state.Revision {
		state.Revision = fast.Revision + 1
	}
	return state
}

// restoreLost returns the durable copy of a clock whose fast copy is gone. Revisions
// handed out by the lost fast copy are never reused: numbering continues after the
// last published revision, or after an upper bound on the fast-only writes made
// since the durable copy when no revision source answers.
func (s *Store) restoreLost(ctx context.Context, durable models.ClockState) models.ClockState {
	if floor := s.revisionFloor(ctx, durable); floor > durable.Revision {
		durable.Revision = floor + 1
	}
	return durable
}

func (s *Store) revisionFloor(ctx context.Context, durable models.ClockState) uint64 {
	if s.revisions != nil {
		last, err := s.revisions.LastRevision(ctx, durable.GameID)
		if err == nil {
			return max(last, durable.Revision)
		}
		log.Warn().
			Err(err).
			Str("game_id", durable.GameID.String()).
			Msg("last published revision unavailable, bounding by elapsed time")
	}

	if !durable.IsRunning() {
		return durable.Revision
	}
	// Fast-only writes are heartbeats of a running clock, each at least 1ms after
	// the previous one.
	elapsed := clock.FromTime(s.clock.Now()) - durable.LastServerMs
	if elapsed <= 0 {
		return durable.Revision
	}
	return durable.Revision + uint64(elapsed)
}

// FlushPending retries durable writes that failed after their fast write succeeded,
// and running-index writes that failed after their record was written.
func (s *Store) FlushPending(ctx context.Context) (int, error) {
	s.pendingMu.Lock()
	ids := make([]uuid.UUID, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	unindexed := make([]uuid.UUID, 0, len(s.unindexed))
	for id := range s.unindexed {
		unindexed = append(unindexed, id)
	}
	s.pendingMu.Unlock()

	for _, id := range unindexed {
		state, err := s.fast.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.forget(id)
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := s.fast.SetRunning(ctx, id, state.IsRunning()); err != nil {
			return 0, err
		}
		s.pendingMu.Lock()
		delete(s.unindexed, id)
		s.pendingMu.Unlock()
	}

	flushed := 0
	for _, id := range ids {
		state, err := s.fast.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.clearPending(id)
			continue
		}
		if err != nil {
			return flushed, err
		}
		if err := s.durable.Upsert(ctx, state); err != nil {
			return flushed, fmt.Errorf("%w: flush durable clock: %w", ErrStoreUnavailable, err)
		}
		s.clearPending(id)
		flushed++
	}
	return flushed, nil
}

// PendingCount returns how many games are waiting for a durable write or a
// running-index write.
func (s *Store) PendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	n := len(s.pending)
	for id := range s.unindexed {
		if _, ok := s.pending[id]; !ok {
			n++
		}
	}
	return n
}

func (s *Store) writeThrough(ctx context.Context, state models.ClockState) error {
	if err := s.durable.Upsert(ctx, state); err != nil {
		s.pendingMu.Lock()
		s.pending[state.GameID] = struct{}{}
		s.pendingMu.Unlock()

		log.Warn().
			Err(err).
			Str("game_id", state.GameID.String()).
			Uint64("revision", state.Revision).
			Msg("durable write failed, queued for retry")
		return fmt.Errorf("%w: %w", ErrDurablePending, err)
	}
	s.clearPending(state.GameID)
	return nil
}

func (s *Store) reseed(ctx context.Context, state models.ClockState) error {
	if err := s.fast.Put(ctx, state); err != nil {
		return err
	}
	s.index(ctx, state)
	return nil
}

// index records whether state's game is running. A failure is kept in memory so
// the game stays listed, and is retried by FlushPending.
func (s *Store) index(ctx context.Context, state models.ClockState) {
	err := s.fast.SetRunning(ctx, state.GameID, state.IsRunning())

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if err == nil {
		delete(s.unindexed, state.GameID)
		return
	}
	s.unindexed[state.GameID] = state.IsRunning()

	log.Warn().
		Err(err).
		Str("game_id", state.GameID.String()).
		Bool("running", state.IsRunning()).
		Msg("running index write failed, queued for retry")
}

func (s *Store) clearPending(gameID uuid.UUID) {
	s.pendingMu.Lock()
	delete(s.pending, gameID)
	s.pendingMu.Unlock()
}

func (s *Store) forget(gameID uuid.UUID) {
	s.pendingMu.Lock()
	delete(s.pending, gameID)
	delete(s.unindexed, gameID)
	s.pendingMu.Unlock()
}
