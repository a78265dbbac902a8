package clockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/mcdev12/gameclock/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const getClock = `
SELECT game_id, side_a_ms, side_b_ms, running, last_server_ms, increment_ms, revision, status, reason
FROM game_clocks
WHERE game_id = $1`

const upsertClock = `
INSERT INTO game_clocks (
    game_id, side_a_ms, side_b_ms, running, last_server_ms, increment_ms, revision, status, reason, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (game_id) DO UPDATE SET
    side_a_ms      = EXCLUDED.side_a_ms,
    side_b_ms      = EXCLUDED.side_b_ms,
    running        = EXCLUDED.running,
    last_server_ms = EXCLUDED.last_server_ms,
    increment_ms   = EXCLUDED.increment_ms,
    revision       = EXCLUDED.revision,
    status         = EXCLUDED.status,
    reason         = EXCLUDED.reason,
    updated_at     = now()
WHERE game_clocks.revision < EXCLUDED.revision`

const listActiveClocks = `
SELECT game_id, side_a_ms, side_b_ms, running, last_server_ms, increment_ms, revision, status, reason
FROM game_clocks
WHERE status = 'active'
ORDER BY game_id`

const listFinishedBefore = `
SELECT game_id
FROM game_clocks
WHERE status = 'over' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

const insertArchive = `
INSERT INTO game_clock_archive (game_id, final_snapshot, archived_at)
VALUES ($1, $2, now())
ON CONFLICT (game_id) DO NOTHING`

const deleteFinishedClock = `
DELETE FROM game_clocks
WHERE game_id = $1 AND status = 'over'`

const getArchivedSnapshot = `
SELECT final_snapshot
FROM game_clock_archive
WHERE game_id = $1`

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

// PostgresStore is the durable clock store, one row per game in game_clocks.
type PostgresStore struct {
	pool    *pgxpool.Pool
	queries *queries
}

// NewPostgresStore creates a durable store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		queries: newQueries(pool),
	}
}

func (s *PostgresStore) Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error) {
	state, err := scanClock(s.queries.db.QueryRow(ctx, getClock, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ClockState{}, ErrNotFound
		}
		return models.ClockState{}, fmt.Errorf("failed to get clock: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, state models.ClockState) error {
	var reason *string
	if state.Reason != nil {
		r := string(*state.Reason)
		reason = &r
	}

	_, err := s.queries.db.Exec(ctx, upsertClock,
		state.GameID,
		state.SideAMs,
		state.SideBMs,
		string(state.Running),
		state.LastServerMs,
		state.IncrementMs,
		int64(state.Revision),
		string(state.Status),
		sqlutil.ToText(reason),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert clock: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]models.ClockState, error) {
	rows, err := s.queries.db.Query(ctx, listActiveClocks)
	if err != nil {
		return nil, fmt.Errorf("failed to list active clocks: %w", err)
	}
	defer rows.Close()

	var states []models.ClockState
	for rows.Next() {
		state, err := scanClock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clock: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (s *PostgresStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.queries.db.Query(ctx, listFinishedBefore, sqlutil.ToTimestamptz(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished clocks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to collect finished clocks: %w", err)
	}
	return ids, nil
}

// Archive copies the final snapshot into game_clock_archive and removes the live row
// in one transaction.
func (s *PostgresStore) Archive(ctx context.Context, gameID uuid.UUID, final models.Snapshot) error {
	payload, err := sqlutil.ToNullRawMessage(final)
	if err != nil {
		return fmt.Errorf("failed to marshal final snapshot: %w", err)
	}

	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) *queries { return newQueries(tx) }, func(q *queries) error {
		if _, err := q.db.Exec(ctx, insertArchive, gameID, payload); err != nil {
			return fmt.Errorf("failed to insert archive row: %w", err)
		}
		if _, err := q.db.Exec(ctx, deleteFinishedClock, gameID); err != nil {
			return fmt.Errorf("failed to delete finished clock: %w", err)
		}
		return nil
	})
}

// ArchivedSnapshot returns the final snapshot of an archived game.
func (s *PostgresStore) ArchivedSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	var raw pqtype.NullRawMessage
	if err := s.queries.db.QueryRow(ctx, getArchivedSnapshot, gameID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Snapshot{}, ErrNotFound
		}
		return models.Snapshot{}, fmt.Errorf("failed to get archived snapshot: %w", err)
	}

	var snap models.Snapshot
	ok, err := sqlutil.FromNullRawMessage(raw, &snap)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to decode archived snapshot: %w", err)
	}
	if !ok {
		return models.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func scanClock(row pgx.Row) (models.ClockState, error) {
	var (
		state    models.ClockState
		running  string
		status   string
		revision int64
		reason   pgtype.Text
	)
	err := row.Scan(
		&state.GameID,
		&state.SideAMs,
		&state.SideBMs,
		&running,
		&state.LastServerMs,
		&state.IncrementMs,
		&revision,
		&status,
		&reason,
	)
	if err != nil {
		return models.ClockState{}, err
	}

	state.Running = models.Side(running)
	state.Status = models.ClockStatus(status)
	state.Revision = uint64(revision)
	if r := sqlutil.FromText(reason); r != nil {
		er := models.EndReason(*r)
		state.Reason = &er
	}
	return state, nil
}
