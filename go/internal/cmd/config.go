package main

import (
	"github.com/mcdev12/gameclock/go/internal/clocksync"
	"github.com/mcdev12/gameclock/go/internal/config"
	"github.com/mcdev12/gameclock/go/internal/heartbeat"
	"github.com/mcdev12/gameclock/go/internal/lifecycle"
	"github.com/mcdev12/gameclock/go/internal/natsutil"
)

func clockConfig(cfg *config.Config) clocksync.Config {
	c := clocksync.DefaultConfig()
	c.OpTimeout = cfg.Clock.OpTimeout
	c.MaxAttempts = cfg.Clock.MaxAttempts
	if cfg.Clock.RetryBackoff > 0 {
		c.RetryBackoff = cfg.Clock.RetryBackoff
	}
	return c
}

func heartbeatConfig(cfg *config.Config) heartbeat.Config {
	c := heartbeat.DefaultConfig()
	c.Interval = cfg.Heartbeat.Interval
	c.Workers = cfg.Heartbeat.Workers
	if cfg.Heartbeat.TickTimeout > 0 {
		c.TickTimeout = cfg.Heartbeat.TickTimeout
	}
	return c
}

func finalizerConfig(cfg *config.Config, dsn string) lifecycle.FinalizerConfig {
	c := lifecycle.DefaultFinalizerConfig()
	c.DatabaseURL = dsn
	if cfg.Finalizer.FallbackInterval > 0 {
		c.FallbackInterval = cfg.Finalizer.FallbackInterval
	}
	if cfg.Finalizer.GracePeriod > 0 {
		c.GracePeriod = cfg.Finalizer.GracePeriod
	}
	if cfg.Finalizer.BatchSize > 0 {
		c.BatchSize = cfg.Finalizer.BatchSize
	}
	return c
}

func natsConfig(cfg *config.Config) natsutil.Config {
	c := natsutil.DefaultConfig()
	c.URL = cfg.NATS.URL
	c.Name = "gameclock-server"
	return c
}
