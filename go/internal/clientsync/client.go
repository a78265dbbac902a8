package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/clock"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ClientConfig holds the gateway endpoint and render settings.
type ClientConfig struct {
	// GatewayURL is the websocket endpoint, e.g. ws://localhost:8081/ws/clock.
	GatewayURL     string
	GameID         uuid.UUID
	Player         string
	RenderInterval time.Duration
	ReconnectWait  time.Duration
	HandshakeWait  time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		GatewayURL:     "ws://localhost:8081/ws/clock",
		Player:         "spectator",
		RenderInterval: 200 * time.Millisecond,
		ReconnectWait:  2 * time.Second,
		HandshakeWait:  5 * time.Second,
	}
}

// Client follows one game through the gateway and renders it on a single local ticker.
type Client struct {
	cfg     ClientConfig
	clock   clockwork.Clock
	tracker *Tracker
	render  func(View)
	dialer  *websocket.Dialer
}

func NewClient(cfg ClientConfig, clk clockwork.Clock, render func(View)) *Client {
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = 200 * time.Millisecond
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		clock:   clk,
		tracker: NewTracker(),
		render:  render,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeWait},
	}
}

// Tracker exposes the client's snapshot state.
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// Run renders until ctx is cancelled, reconnecting whenever the connection drops.
// It returns after a terminal snapshot has been rendered. render is never called
// concurrently.
func (c *Client) Run(ctx context.Context) error {
	renderCtx, stopRender := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.renderLoop(renderCtx)
	}()
	defer func() {
		stopRender()
		wg.Wait()
	}()

	for {
		over, err := c.follow(ctx)
		if over {
			stopRender()
			wg.Wait()
			c.render(c.tracker.View(c.localNow()))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.tracker.Reset()
		log.Warn().Err(err).
			Str("game_id", c.cfg.GameID.String()).
			Dur("retry_in", c.cfg.ReconnectWait).
			Msg("gateway connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.ReconnectWait):
		}
	}
}

func (c *Client) renderLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.RenderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			view := c.tracker.View(c.localNow())
			if view.Synced {
				c.render(view)
			}
		}
	}
}

// follow reads snapshots from one connection. It reports true once the game is over.
func (c *Client) follow(ctx context.Context) (bool, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	log.Info().
		Str("game_id", c.cfg.GameID.String()).
		Str("gateway", c.cfg.GatewayURL).
		Msg("connected to clock gateway")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}

		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed snapshot")
			continue
		}
		if snap.GameID != c.cfg.GameID {
			continue
		}

		if !c.tracker.Apply(snap, c.localNow()) {
			log.Debug().
				Uint64("revision", snap.Revision).
				Uint64("last_revision", c.tracker.LastRevision()).
				Msg("ignoring stale snapshot")
			continue
		}
		if snap.IsTerminal() {
			return true, nil
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.GatewayURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("gateway url must use ws or wss")
	}
	q := u.Query()
	q.Set("game_id", c.cfg.GameID.String())
	if c.cfg.Player != "" {
		q.Set("player", c.cfg.Player)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) localNow() int64 {
	return clock.FromTime(c.clock.Now())
}
