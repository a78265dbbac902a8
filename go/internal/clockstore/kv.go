package clockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// KVConfig names the JetStream key-value buckets backing the fast store.
type KVConfig struct {
	ClocksBucket  string
	RunningBucket string
	Replicas      int
	// TTL bounds how long an untouched record survives. Zero keeps records forever.
	TTL time.Duration
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		ClocksBucket:  "GAME_CLOCKS",
		RunningBucket: "GAME_CLOCKS_RUNNING",
		Replicas:      1,
	}
}

// KVFastStore keeps clock records in a JetStream key-value bucket keyed by game id,
// and the running index in a second bucket where key presence means running.
type KVFastStore struct {
	clocks  jetstream.KeyValue
	running jetstream.KeyValue
}

// NewKVFastStore creates or updates both buckets.
func NewKVFastStore(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KVFastStore, error) {
	clocks, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.ClocksBucket,
		Description: "Authoritative game clock records",
		History:     1,
		TTL:         cfg.TTL,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.ClocksBucket, err)
	}

	running, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.RunningBucket,
		Description: "Games whose clock is ticking",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.RunningBucket, err)
	}

	log.Info().
		Str("clocks_bucket", cfg.ClocksBucket).
		Str("running_bucket", cfg.RunningBucket).
		Msg("JetStream key-value buckets ready")

	return &KVFastStore{clocks: clocks, running: running}, nil
}

func (s *KVFastStore) Get(ctx context.Context, gameID uuid.UUID) (models.ClockState, error) {
	state, _, err := s.get(ctx, gameID)
	return state, err
}

func (s *KVFastStore) CompareAndSwap(ctx context.Context, state models.ClockState, baseRevision uint64) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal clock: %w", err)
	}
	key := state.GameID.String()

	if baseRevision == 0 {
		if _, err := s.clocks.Create(ctx, key, data); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return ErrAlreadyExists
			}
			return unavailable("create clock", err)
		}
		return nil
	}

	current, entryRevision, err := s.get(ctx, state.GameID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRevisionConflict
		}
		return err
	}
	if current.Revision != baseRevision {
		return ErrRevisionConflict
	}

	if _, err := s.clocks.Update(ctx, key, data, entryRevision); err != nil {
		if isWrongLastSequence(err) {
			return ErrRevisionConflict
		}
		return unavailable("update clock", err)
	}
	return nil
}

func (s *KVFastStore) Put(ctx context.Context, state models.ClockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal clock: %w", err)
	}
	if _, err := s.clocks.Put(ctx, state.GameID.String(), data); err != nil {
		return unavailable("put clock", err)
	}
	return nil
}

func (s *KVFastStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	key := gameID.String()
	if err := s.clocks.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return unavailable("delete clock", err)
	}
	if err := s.running.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return unavailable("delete running entry", err)
	}
	return nil
}

func (s *KVFastStore) SetRunning(ctx context.Context, gameID uuid.UUID, running bool) error {
	key := gameID.String()
	if running {
		if _, err := s.running.Put(ctx, key, []byte{1}); err != nil {
			return unavailable("mark running", err)
		}
		return nil
	}
	if err := s.running.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return unavailable("clear running", err)
	}
	return nil
}

func (s *KVFastStore) ListRunning(ctx context.Context) ([]uuid.UUID, error) {
	lister, err := s.running.ListKeys(ctx)
	if err != nil {
		return nil, unavailable("list running", err)
	}
	defer lister.Stop()

	var ids []uuid.UUID
	for key := range lister.Keys() {
		id, err := uuid.Parse(key)
		if err != nil {
			log.Warn().Str("key", key).Msg("skipping malformed running key")
			continue
		}
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

func (s *KVFastStore) get(ctx context.Context, gameID uuid.UUID) (models.ClockState, uint64, error) {
	entry, err := s.clocks.Get(ctx, gameID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return models.ClockState{}, 0, ErrNotFound
		}
		return models.ClockState{}, 0, unavailable("get clock", err)
	}

	var state models.ClockState
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return models.ClockState{}, 0, fmt.Errorf("decode clock %s: %w", gameID, err)
	}
	return state, entry.Revision(), nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
