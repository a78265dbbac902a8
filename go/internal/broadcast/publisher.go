// Package broadcast hands clock snapshots to the pub/sub fan-out. Delivery to
// player sockets happens in the gateway.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	HeaderSnapshotType = "Snapshot-Type"
	HeaderGameID       = "Game-ID"
	HeaderRevision     = "Revision"
)

// Publisher delivers a snapshot to the subscribers of its game.
type Publisher interface {
	Publish(ctx context.Context, snapshot models.Snapshot) error
}

type JetStreamConfig struct {
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration // How long to keep snapshots
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:      "GAME_CLOCKS_EVENTS",
		SubjectPrefix:   "clock.games",
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// Subject returns the subject carrying snapshots of one game.
func (c JetStreamConfig) Subject(gameID string) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, gameID)
}

// JetStreamPublisher publishes snapshots to a JetStream stream, one subject per game.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher creates the publisher and makes sure its stream exists.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	p := &JetStreamPublisher{js: js, config: cfg}
	if err := EnsureStream(ctx, js, cfg); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

// EnsureStream creates the snapshot stream, or updates it when its limits changed.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Game clock snapshots",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", cfg.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", cfg.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, snap models.Snapshot) error {
	gameID := snap.GameID.String()
	subject := p.config.Subject(gameID)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			HeaderSnapshotType: []string{string(snap.Type)},
			HeaderGameID:       []string{gameID},
			HeaderRevision:     []string{strconv.FormatUint(snap.Revision, 10)},
		},
	},
		jetstream.WithMsgID(MessageID(snap)),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Uint64("revision", snap.Revision).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published clock snapshot")

	return nil
}

// LastRevision returns the revision of the last snapshot stored for a game, or 0
// when the stream holds none.
func (p *JetStreamPublisher) LastRevision(ctx context.Context, gameID uuid.UUID) (uint64, error) {
	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		return 0, fmt.Errorf("get stream: %w", err)
	}

	msg, err := stream.GetLastMsgForSubject(ctx, p.config.Subject(gameID.String()))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get last snapshot: %w", err)
	}

	if rev, err := strconv.ParseUint(msg.Header.Get(HeaderRevision), 10, 64); err == nil {
		return rev, nil
	}
	snap, err := DecodeSnapshot(msg.Data)
	if err != nil {
		return 0, err
	}
	return snap.Revision, nil
}

// MessageID identifies a snapshot for JetStream duplicate suppression. A retried
// publish of the same revision is stored once.
func MessageID(snap models.Snapshot) string {
	return fmt.Sprintf("%s:%d", snap.GameID, snap.Revision)
}

// DecodeSnapshot parses a message published by JetStreamPublisher.
func DecodeSnapshot(data []byte) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// LogPublisher only logs snapshots. Used when running without NATS.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, snap models.Snapshot) error {
	log.Info().
		Str("game_id", snap.GameID.String()).
		Uint64("revision", snap.Revision).
		Str("type", string(snap.Type)).
		Int64("side_a_ms", snap.SideAMs).
		Int64("side_b_ms", snap.SideBMs).
		Str("running", string(snap.Running)).
		Msg("clock snapshot")
	return nil
}
