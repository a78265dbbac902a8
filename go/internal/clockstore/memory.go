package clockstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/models"
)

// MemoryFastStore is an in-process FastStore for local development and tests.
type MemoryFastStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]models.ClockState
	running map[uuid.UUID]struct{}
}

func NewMemoryFastStore() *MemoryFastStore {
	return &MemoryFastStore{
		records: make(map[uuid.UUID]models.ClockState),
		running: make(map[uuid.UUID]struct{}),
	}
}

func (m *MemoryFastStore) Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.records[gameID]
	if !ok {
		return models.ClockState{}, ErrNotFound
	}
	return state, nil
}

func (m *MemoryFastStore) CompareAndSwap(ctx context.Context, state models.ClockState, baseRevision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[state.GameID]
	switch {
	case baseRevision == 0 && ok:
		return ErrAlreadyExists
	case baseRevision != 0 && (!ok || current.Revision != baseRevision):
		return ErrRevisionConflict
	}

	m.records[state.GameID] = state
	return nil
}

func (m *MemoryFastStore) Put(ctx context.Context, state models.ClockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[state.GameID] = state
	return nil
}

func (m *MemoryFastStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, gameID)
	delete(m.running, gameID)
	return nil
}

func (m *MemoryFastStore) SetRunning(ctx context.Context, gameID uuid.UUID, running bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		m.running[gameID] = struct{}{}
	} else {
		delete(m.running, gameID)
	}
	return nil
}

func (m *MemoryFastStore) ListRunning(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

type memoryRow struct {
	state     models.ClockState
	updatedAt time.Time
}

// MemoryDurableStore is an in-process DurableStore for local development and tests.
type MemoryDurableStore struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	rows     map[uuid.UUID]memoryRow
	archived map[uuid.UUID]models.Snapshot
}

func NewMemoryDurableStore(clock clockwork.Clock) *MemoryDurableStore {
	return &MemoryDurableStore{
		clock:    clock,
		rows:     make(map[uuid.UUID]memoryRow),
		archived: make(map[uuid.UUID]models.Snapshot),
	}
}

func (m *MemoryDurableStore) Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[gameID]
	if !ok {
		return models.ClockState{}, ErrNotFound
	}
	return row.state, nil
}

func (m *MemoryDurableStore) Upsert(ctx context.Context, state models.ClockState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.rows[state.GameID]; ok && row.state.Revision >= state.Revision {
		return nil
	}
	m.rows[state.GameID] = memoryRow{state: state, updatedAt: m.clock.Now()}
	return nil
}

func (m *MemoryDurableStore) ListActive(ctx context.Context) ([]models.ClockState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []models.ClockState
	for _, row := range m.rows {
		if !row.state.IsOver() {
			active = append(active, row.state)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].GameID.String() < active[j].GameID.String()
	})
	return active, nil
}

func (m *MemoryDurableStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uuid.UUID
	for id, row := range m.rows {
		if row.state.IsOver() && row.updatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryDurableStore) Archive(ctx context.Context, gameID uuid.UUID, final models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.archived[gameID]; !ok {
		m.archived[gameID] = final
	}
	delete(m.rows, gameID)
	return nil
}

func (m *MemoryDurableStore) ArchivedSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.archived[gameID]
	if !ok {
		return models.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}
