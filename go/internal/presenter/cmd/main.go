package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
	"github.com/mcdev12/cuesync/go/internal/config"
	"github.com/mcdev12/cuesync/go/internal/logging"
	"github.com/mcdev12/cuesync/go/internal/peer"
	"github.com/mcdev12/cuesync/go/internal/presenter"
	"github.com/mcdev12/cuesync/go/internal/script"
)

func main() {
	// Load configuration (.env, optional YAML file, environment)
	cfg, err := config.Load(os.Getenv("CUESYNC_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logging
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatal().Err(err).Msg("invalid logging configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := "presenter-" + uuid.NewString()[:8]
	clock := clocksync.NewNetworkClock(clockwork.NewRealClock())
	client := peer.New(cfg.Relay.URL, peer.DefaultOptions())

	node, err := presenter.NewNode(presenter.NodeConfig{
		ID: id,
		Engine: presenter.EngineConfig{
			KeyframeInterval: cfg.Presenter.EffectiveKeyframeInterval(),
			ViewportWidth:    cfg.Presenter.ViewportWidth,
			Params:           script.DefaultParams(),
			Segmenter:        script.MonospaceSegmenter{},
		},
		ClockSync: cfg.ClockSync,
	}, client, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create presenter")
	}
	defer node.Close()

	client.OnMessage(node.HandleFrame)
	client.OnReconnect(func() { node.OnReconnect(ctx) })

	log.Info().
		Str("node", id).
		Str("relay", cfg.Relay.URL).
		Bool("constrained", cfg.Presenter.Constrained).
		Dur("keyframe_interval", cfg.Presenter.EffectiveKeyframeInterval()).
		Msg("starting presenter")

	if err := connect(ctx, client); err != nil {
		log.Fatal().Err(err).Msg("failed to reach relay")
	}
	defer client.Close()

	if err := node.Start(ctx); err != nil {
		log.Info().Msg("presenter stopped before clock sync completed")
		return
	}
	node.Engine().RequestKeyframe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return node.Run(gctx)
	})
	g.Go(func() error {
		render(gctx, clock, node.Engine(), cfg.Presenter)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-client.Done():
			log.Warn().Msg("relay link closed")
			stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("presenter failed")
	}
	log.Info().Msg("presenter shutdown complete")
}

func connect(ctx context.Context, client *peer.Client) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		if err := client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("relay not reachable")
	})
}

// render stands in for the display: it logs the current line every render tick
func render(ctx context.Context, clock clockwork.Clock, engine *presenter.Engine, cfg config.PresenterConfig) {
	interval := cfg.RenderInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var last presenter.Phase
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			snap := engine.Snapshot()
			if snap.Phase != presenter.PhasePlaying && snap.Phase == last {
				continue
			}
			last = snap.Phase
			pos := engine.Position()
			log.Info().
				Str("phase", string(snap.Phase)).
				Int("script_version", snap.ScriptVersion()).
				Int("line", pos.LineIndex).
				Float64("fractional_line", pos.FractionalLine).
				Float64("scroll_y", pos.ScrollY).
				Msg("render")
		}
	}
}
