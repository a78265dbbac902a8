package clockstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1_700_000_000_000)

var errBoom = errors.New("connection refused")

// flakyDurable fails Upsert while failing is set.
type flakyDurable struct {
	*MemoryDurableStore
	failing bool
}

func (f *flakyDurable) Upsert(ctx context.Context, state models.ClockState) error {
	if f.failing {
		return errBoom
	}
	return f.MemoryDurableStore.Upsert(ctx, state)
}

func newClock(id uuid.UUID) models.ClockState {
	return models.ClockState{
		GameID:       id,
		SideAMs:      60_000,
		SideBMs:      60_000,
		Running:      models.SideA,
		LastServerMs: t0,
		IncrementMs:  2_000,
		Status:       models.StatusActive,
	}
}

func newTestStore() (*Store, *MemoryFastStore, *MemoryDurableStore, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	fast := NewMemoryFastStore()
	durable := NewMemoryDurableStore(clk)
	return NewStore(fast, durable, WithClock(clk)), fast, durable, clk
}

func TestCreateWritesBothLayers(t *testing.T) {
	ctx := context.Background()
	store, fast, durable, _ := newTestStore()
	id := uuid.New()

	created, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), created.Revision)

	fromFast, err := fast.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, created, fromFast)

	fromDurable, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, created, fromDurable)

	runningIDs, err := store.ListRunningGameIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, runningIDs)

	_, err = store.Create(ctx, newClock(id))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestLoadNotFound(t *testing.T) {
	store, _, _, _ := newTestStore()

	_, err := store.Load(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadReseedsFastLayerFromDurable(t *testing.T) {
	ctx := context.Background()
	store, fast, durable, _ := newTestStore()
	id := uuid.New()
	state := newClock(id)
	state.Revision = 4
	require.NoError(t, durable.Upsert(ctx, state))

	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	reseeded, err := fast.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state, reseeded)

	runningIDs, err := fast.ListRunning(ctx)
	require.NoError(t, err)
	assert.Contains(t, runningIDs, id)
}

func TestSaveWithNewRevisionIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store, _, durable, _ := newTestStore()
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		prev := state.Revision
		state.SideAMs -= 1_000
		state, err = store.SaveWithNewRevision(ctx, state, i%2 == 0)
		require.NoError(t, err)
		assert.Greater(t, state.Revision, prev)
	}
	assert.Equal(t, uint64(6), state.Revision)

	// The last save (i=4) was durable, so both layers agree.
	fromDurable, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state, fromDurable)

	state.SideAMs -= 1_000
	state, err = store.SaveWithNewRevision(ctx, state, false)
	require.NoError(t, err)

	fromDurable, err = durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), fromDurable.Revision, "a fast-only save leaves the durable copy behind")
	assert.Equal(t, uint64(7), state.Revision)
}

func TestSaveWithNewRevisionConflict(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStore()
	id := uuid.New()

	base, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	_, err = store.SaveWithNewRevision(ctx, base, false)
	require.NoError(t, err)

	// A second writer working from the same base must lose.
	_, err = store.SaveWithNewRevision(ctx, base, false)
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestSaveUpdatesRunningIndex(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestStore()
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	state.Running = models.SideNone
	_, err = store.SaveWithNewRevision(ctx, state, true)
	require.NoError(t, err)

	runningIDs, err := store.ListRunningGameIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runningIDs)
}

func TestDurableFailureIsPendingAndFlushed(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClock()
	fast := NewMemoryFastStore()
	durable := &flakyDurable{MemoryDurableStore: NewMemoryDurableStore(clk)}
	store := NewStore(fast, durable)
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	durable.failing = true
	state.Running = models.SideB
	saved, err := store.SaveWithNewRevision(ctx, state, true)
	require.ErrorIs(t, err, ErrDurablePending)
	assert.Equal(t, uint64(2), saved.Revision, "the fast write stands")
	assert.Equal(t, 1, store.PendingCount())

	_, err = store.FlushPending(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, store.PendingCount())

	durable.failing = false
	flushed, err := store.FlushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Zero(t, store.PendingCount())

	fromDurable, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saved, fromDurable)
}

func TestDurableUpsertIgnoresOlderRevision(t *testing.T) {
	ctx := context.Background()
	_, _, durable, _ := newTestStore()
	id := uuid.New()

	newer := newClock(id)
	newer.Revision = 7
	older := newClock(id)
	older.Revision = 6
	older.SideAMs = 1

	require.NoError(t, durable.Upsert(ctx, newer))
	require.NoError(t, durable.Upsert(ctx, older))

	got, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestRecoverDurableWins(t *testing.T) {
	ctx := context.Background()
	store, fast, durable, _ := newTestStore()

	// The fast copy went ahead with heartbeat writes the durable store never saw.
	id := uuid.New()
	committed := newClock(id)
	committed.Revision = 5
	require.NoError(t, durable.Upsert(ctx, committed))

	ahead := committed
	ahead.Revision = 8
	ahead.SideAMs = committed.SideAMs - 3_000
	ahead.LastServerMs = committed.LastServerMs + 3_000
	require.NoError(t, fast.Put(ctx, ahead))

	// A second game lost its fast copy entirely.
	lostID := uuid.New()
	lost := newClock(lostID)
	lost.Revision = 2
	require.NoError(t, durable.Upsert(ctx, lost))

	recovered, err := store.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 2)

	got, err := fast.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Revision, "revision continues after the fast copy")
	assert.Equal(t, ahead.LastServerMs, got.LastServerMs, "server time never moves backwards")
	assert.Equal(t, int64(57_000), got.SideAMs, "durable state charged up to the fast timestamp")

	fromDurable, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got, fromDurable)

	gotLost, err := fast.Get(ctx, lostID)
	require.NoError(t, err)
	assert.Equal(t, lost, gotLost)

	again, err := store.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "a consistent store recovers nothing")
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	store, fast, _, clk := newTestStore()
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	err = store.Archive(ctx, id)
	require.ErrorIs(t, err, ErrNotOver)

	reason := models.ReasonResignation
	state.Status = models.StatusOver
	state.Running = models.SideNone
	state.Reason = &reason
	over, err := store.SaveWithNewRevision(ctx, state, false)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	finished, err := store.ListFinishedBefore(ctx, clk.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, finished, "the durable row was last written as active")

	require.NoError(t, store.Archive(ctx, id))

	_, err = fast.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := store.ArchivedSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.NewSnapshot(over), snap)
	assert.Equal(t, models.SnapshotOver, snap.Type)
}

func TestListFinishedBefore(t *testing.T) {
	ctx := context.Background()
	store, _, durable, clk := newTestStore()

	reason := models.ReasonFlag
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s := newClock(uuid.New())
		s.Revision = 3
		s.Status = models.StatusOver
		s.Running = models.SideNone
		s.Reason = &reason
		require.NoError(t, durable.Upsert(ctx, s))
		ids = append(ids, s.GameID)
	}
	require.NoError(t, durable.Upsert(ctx, func() models.ClockState {
		s := newClock(uuid.New())
		s.Revision = 1
		return s
	}()))

	got, err := store.ListFinishedBefore(ctx, clk.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	clk.Advance(time.Minute)
	got, err = store.ListFinishedBefore(ctx, clk.Now(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)

	got, err = store.ListFinishedBefore(ctx, clk.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

type fixedRevisions struct {
	last uint64
	err  error
}

func (f fixedRevisions) LastRevision(ctx context.Context, gameID uuid.UUID) (uint64, error) {
	return f.last, f.err
}

// advanceFastOnly writes n heartbeat-style revisions, one second apart, that only
// reach the fast layer.
func advanceFastOnly(t *testing.T, store *Store, clk *clockwork.FakeClock, state models.ClockState, n int) models.ClockState {
	t.Helper()
	var err error
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		state.SideAMs -= 1_000
		state.LastServerMs = clk.Now().UnixMilli()
		state, err = store.SaveWithNewRevision(context.Background(), state, false)
		require.NoError(t, err)
	}
	return state
}

func TestLoadAfterFastLossNeverReusesRevisions(t *testing.T) {
	ctx := context.Background()
	store, _, durable, clk := newTestStore()
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)
	state = advanceFastOnly(t, store, clk, state, 10)
	require.Equal(t, uint64(11), state.Revision)

	restarted := NewStore(NewMemoryFastStore(), durable, WithClock(clk))
	got, err := restarted.Load(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, got.Revision, uint64(11))
	assert.Equal(t, int64(60_000), got.SideAMs, "the durable state wins")

	fromDurable, err := durable.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Revision, fromDurable.Revision)

	next, err := restarted.SaveWithNewRevision(ctx, got, true)
	require.NoError(t, err)
	assert.Equal(t, got.Revision+1, next.Revision)
}

func TestRecoverAfterFastLossUsesPublishedRevision(t *testing.T) {
	ctx := context.Background()
	store, _, durable, clk := newTestStore()
	id := uuid.New()

	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)
	advanceFastOnly(t, store, clk, state, 10)

	restarted := NewStore(NewMemoryFastStore(), durable, WithClock(clk), WithRevisionSource(fixedRevisions{last: 11}))
	recovered, err := restarted.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, uint64(12), recovered[0].Revision)

	// Without an answer from the source, the bound comes from the elapsed time.
	fallback := NewStore(NewMemoryFastStore(), durable, WithClock(clk), WithRevisionSource(fixedRevisions{err: errBoom}))
	got, err := fallback.Load(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, got.Revision, uint64(12))
}

func TestLoadAfterFastLossPausedClockKeepsRevision(t *testing.T) {
	ctx := context.Background()
	store, _, durable, clk := newTestStore()
	id := uuid.New()
	paused := newClock(id)
	paused.Running = models.SideNone
	paused.Revision = 3
	require.NoError(t, durable.Upsert(ctx, paused))
	clk.Advance(time.Hour)

	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, paused, got)
}

// flakyIndex fails the next failures SetRunning calls.
type flakyIndex struct {
	*MemoryFastStore
	failures int
}

func (f *flakyIndex) SetRunning(ctx context.Context, gameID uuid.UUID, running bool) error {
	if f.failures > 0 {
		f.failures--
		return unavailable("set running", errBoom)
	}
	return f.MemoryFastStore.SetRunning(ctx, gameID, running)
}

func TestRunningIndexFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	fast := &flakyIndex{MemoryFastStore: NewMemoryFastStore()}
	store := NewStore(fast, NewMemoryDurableStore(clk), WithClock(clk))
	id := uuid.New()

	paused := newClock(id)
	paused.Running = models.SideNone
	state, err := store.Create(ctx, paused)
	require.NoError(t, err)

	fast.failures = 1
	state.Running = models.SideB
	resumed, err := store.SaveWithNewRevision(ctx, state, true)
	require.NoError(t, err, "the record was written")
	assert.Equal(t, uint64(2), resumed.Revision)

	ids, err := store.ListRunningGameIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.Equal(t, 1, store.PendingCount())

	_, err = store.FlushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, store.PendingCount())
	indexed, err := fast.ListRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, indexed)

	// A failed removal keeps the game out of the listing as well.
	fast.failures = 1
	resumed.Running = models.SideNone
	_, err = store.SaveWithNewRevision(ctx, resumed, false)
	require.NoError(t, err)
	ids, err = store.ListRunningGameIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// landingFast writes on CompareAndSwap and then reports a failure.
type landingFast struct {
	*MemoryFastStore
	failures int
}

func (l *landingFast) CompareAndSwap(ctx context.Context, state models.ClockState, baseRevision uint64) error {
	if err := l.MemoryFastStore.CompareAndSwap(ctx, state, baseRevision); err != nil {
		return err
	}
	if l.failures > 0 {
		l.failures--
		return unavailable("update clock", errBoom)
	}
	return nil
}

func TestSaveThatLandedDespiteErrorSucceeds(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	fast := &landingFast{MemoryFastStore: NewMemoryFastStore()}
	store := NewStore(fast, NewMemoryDurableStore(clk), WithClock(clk))
	id := uuid.New()

	fast.failures = 1
	state, err := store.Create(ctx, newClock(id))
	require.NoError(t, err)

	fast.failures = 1
	state.SideAMs -= 500
	saved, err := store.SaveWithNewRevision(ctx, state, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.Revision)

	// The same base again is a real conflict.
	_, err = store.SaveWithNewRevision(ctx, state, false)
	assert.ErrorIs(t, err, ErrRevisionConflict)
}
