package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/clientsync"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var cli struct {
	Gateway  string        `help:"Gateway websocket endpoint." default:"ws://localhost:8081/ws/clock" env:"CLOCK_GATEWAY_URL"`
	Player   string        `help:"Name reported to the gateway." default:"spectator"`
	Interval time.Duration `help:"Render interval." default:"200ms"`
	Verbose  bool          `short:"v" help:"Log connection details."`

	Game string `arg:"" help:"Game id to watch."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("clockwatch"),
		kong.Description("Print the live clocks of a game."),
		kong.UsageOnError(),
	)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if cli.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	gameID, err := uuid.Parse(cli.Game)
	kctx.FatalIfErrorf(err)

	cfg := clientsync.DefaultClientConfig()
	cfg.GatewayURL = cli.Gateway
	cfg.GameID = gameID
	cfg.Player = cli.Player
	cfg.RenderInterval = cli.Interval

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := clientsync.NewClient(cfg, clockwork.NewRealClock(), printView)
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		kctx.FatalIfErrorf(err)
	}
	fmt.Println()
}

func printView(v clientsync.View) {
	status := "running " + string(v.Snapshot.Running)
	if v.Snapshot.Running == models.SideNone {
		status = "paused"
	}
	if v.Snapshot.IsTerminal() {
		status = "over: " + string(v.Snapshot.Reason)
	}
	fmt.Printf("\rA %s  B %s  [%s] rev %d   ",
		formatMs(v.SideAMs), formatMs(v.SideBMs), status, v.Snapshot.Revision)
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	minutes := int(d / time.Minute)
	seconds := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%04.1f", minutes, seconds)
}
