package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
	"github.com/mcdev12/cuesync/go/internal/config"
	"github.com/mcdev12/cuesync/go/internal/controller"
	"github.com/mcdev12/cuesync/go/internal/logging"
	"github.com/mcdev12/cuesync/go/internal/peer"
	"github.com/mcdev12/cuesync/go/internal/script"
)

var (
	configPath string
	relayURL   string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CUESYNC_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "relay WebSocket URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "level", "", "logging level (overrides config)")
	rootCmd.AddCommand(runCmd, syncCmd)
}

var rootCmd = &cobra.Command{
	Use:           "controller",
	Short:         "drive a cuesync presenter through the relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "read commands from stdin and send them to the presenter",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctl, client, err := start(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		defer ctl.Close()

		if err := ctl.RequestKeyframe(); err != nil {
			log.Warn().Err(err).Msg("initial keyframe request failed")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return ctl.Run(gctx)
		})
		g.Go(func() error {
			defer stop()
			fmt.Fprintln(cmd.OutOrStdout(), "type help for commands")
			return controller.NewConsole(ctl, cmd.OutOrStdout()).Run(gctx, cmd.InOrStdin())
		})
		return g.Wait()
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "measure the clock offset to the relay and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		ctl, client, err := start(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		defer ctl.Close()

		est, ok := ctl.Synchronizer().Last()
		if !ok {
			return fmt.Errorf("clock sync failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "offset=%dms rtt=%dms samples=%d\n", est.OffsetMs(), est.RTTMs(), est.Samples)
		return nil
	},
}

// start loads configuration, connects to the relay and synchronizes the clock
func start(ctx context.Context) (*controller.Controller, *peer.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if relayURL != "" {
		cfg.Relay.URL = relayURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, nil, err
	}

	id := "controller-" + uuid.NewString()[:8]
	clock := clocksync.NewNetworkClock(clockwork.NewRealClock())
	client := peer.New(cfg.Relay.URL, peer.DefaultOptions())
	ctl := controller.New(controller.Config{
		ID:         id,
		Params:     script.DefaultParams(),
		AckTimeout: cfg.Controller.AckTimeout,
		Simulator: controller.SimulatorConfig{
			CheckInterval:  cfg.Controller.CheckInterval,
			MaxKeyframeAge: cfg.Controller.MaxKeyframeAge,
			GoodAge:        cfg.Controller.GoodAge,
		},
		ClockSync: cfg.ClockSync,
	}, client, clock)

	client.OnMessage(ctl.HandleFrame)
	client.OnReconnect(func() { ctl.OnReconnect(ctx) })

	if err := client.Connect(ctx); err != nil {
		ctl.Close()
		return nil, nil, fmt.Errorf("connect to relay %s: %w", cfg.Relay.URL, err)
	}
	log.Info().Str("node", id).Str("relay", cfg.Relay.URL).Msg("controller connected")

	if _, err := ctl.Synchronize(ctx); err != nil {
		log.Warn().Err(err).Msg("clock sync failed, commands use the local clock")
	}
	return ctl, client, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("controller failed")
		os.Exit(1)
	}
}
