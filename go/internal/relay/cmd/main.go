package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/cuesync/go/internal/config"
	"github.com/mcdev12/cuesync/go/internal/logging"
	"github.com/mcdev12/cuesync/go/internal/relay"
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

	instanceID := uuid.NewString()
	bridge, err := setupBridge(ctx, cfg.Relay, instanceID)
	if err != nil {
		log.Fatal().Err(err).Str("bridge", cfg.Relay.Bridge).Msg("failed to connect bridge")
	}

	relayConfig := relay.DefaultConfig()
	relayConfig.Addr = cfg.Relay.Addr
	relayConfig.ClockFollower = cfg.Relay.ClockFollower
	service := relay.NewService(relayConfig, clockwork.NewRealClock(), bridge)

	server := &http.Server{
		Addr:        relayConfig.Addr,
		Handler:     service.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	log.Info().
		Str("addr", server.Addr).
		Str("bridge", cfg.Relay.Bridge).
		Str("instance_id", instanceID).
		Bool("clock_follower", cfg.Relay.ClockFollower).
		Msg("starting relay")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Start(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("relay failed")
	}
	log.Info().Msg("relay shutdown complete")
}

func setupBridge(ctx context.Context, cfg config.RelayConfig, instanceID string) (relay.Bridge, error) {
	switch cfg.Bridge {
	case "nats":
		natsConfig := relay.DefaultNATSBridgeConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Subject = cfg.BridgeSubject
		return relay.NewNATSBridge(natsConfig, instanceID)
	case "redis":
		redisConfig := relay.DefaultRedisBridgeConfig()
		redisConfig.Addr = cfg.RedisAddr
		redisConfig.Channel = cfg.BridgeSubject
		return relay.NewRedisBridge(ctx, redisConfig, instanceID)
	default:
		return nil, nil
	}
}
