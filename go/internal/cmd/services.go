package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/broadcast"
	"github.com/mcdev12/gameclock/go/internal/clockstore"
	"github.com/mcdev12/gameclock/go/internal/clocksync"
	"github.com/mcdev12/gameclock/go/internal/config"
	"github.com/mcdev12/gameclock/go/internal/dbconfig"
	"github.com/mcdev12/gameclock/go/internal/heartbeat"
	"github.com/mcdev12/gameclock/go/internal/lifecycle"
	"github.com/mcdev12/gameclock/go/internal/natsutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store     *clockstore.Store
	App       *clocksync.App
	Clock     *clocksync.Service
	Scheduler *heartbeat.Scheduler
	Finalizer *lifecycle.Finalizer
	Metrics   *broadcast.PrometheusMetrics
}

// setupServices wires the clock server. The returned cleanup closes every connection
// that was opened.
func setupServices(ctx context.Context, cfg *config.Config, clk clockwork.Clock) (*Services, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Services, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// NATS backs the fast store and the snapshot stream
	var js jetstream.JetStream
	if cfg.NATS.URL != "" {
		nc, stream, err := natsutil.Connect(natsConfig(cfg))
		if err != nil {
			return fail(fmt.Errorf("failed to connect to NATS: %w", err))
		}
		closers = append(closers, func() { nc.Drain() })
		js = stream
	}

	// Fast store
	var fast clockstore.FastStore
	switch cfg.Store.Fast {
	case "kv":
		if js == nil {
			return fail(fmt.Errorf("kv fast store requires NATS"))
		}
		kv, err := clockstore.NewKVFastStore(ctx, js, clockstore.DefaultKVConfig())
		if err != nil {
			return fail(fmt.Errorf("failed to create kv fast store: %w", err))
		}
		fast = kv
	default:
		fast = clockstore.NewMemoryFastStore()
	}

	// Durable store
	dbCfg := dbconfig.NewConfigFromEnv()
	var durable clockstore.DurableStore
	switch cfg.Store.Durable {
	case "postgres":
		pool, err := setupDatabase(ctx, dbCfg, cfg.Store.ApplySchema)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		durable = clockstore.NewPostgresStore(pool)
	default:
		durable = clockstore.NewMemoryDurableStore(clk)
	}

	// Snapshot broadcast
	metrics := broadcast.NewPrometheusMetrics()
	storeOpts := []clockstore.Option{clockstore.WithClock(clk)}
	var publisher broadcast.Publisher = broadcast.LogPublisher{}
	if js != nil {
		jsPublisher, err := broadcast.NewJetStreamPublisher(ctx, js, broadcast.DefaultJetStreamConfig())
		if err != nil {
			return fail(fmt.Errorf("failed to create snapshot publisher: %w", err))
		}
		publisher = jsPublisher
		storeOpts = append(storeOpts, clockstore.WithRevisionSource(jsPublisher))
	} else {
		log.Warn().Msg("NATS disabled, snapshots are only logged")
	}

	store := clockstore.NewStore(fast, durable, storeOpts...)

	// Clock app and its Connect service
	app := clocksync.NewApp(store, broadcast.NewMetricPublisher(publisher, metrics), clk, clockConfig(cfg))
	services := &Services{
		Store:     store,
		App:       app,
		Clock:     clocksync.NewService(app),
		Scheduler: heartbeat.NewScheduler(app, clk, metrics, heartbeatConfig(cfg)),
		Metrics:   metrics,
	}

	// Finalizer
	if cfg.Finalizer.Enabled {
		fcfg := finalizerConfig(cfg, dbCfg.DSN())
		notifier, err := lifecycle.NewPQNotifier(fcfg)
		if err != nil {
			return fail(fmt.Errorf("failed to listen for finalized games: %w", err))
		}
		services.Finalizer = lifecycle.NewFinalizer(store, notifier, clk, fcfg)
	}

	return services, cleanup, nil
}
