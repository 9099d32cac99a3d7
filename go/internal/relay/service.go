package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// WebSocketPath is the well-known path peers connect to
const WebSocketPath = "/ws"

// Config holds configuration for the relay service
type Config struct {
	Addr           string           `yaml:"addr"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Connection     ConnectionConfig `yaml:"connection"`
	// ClockFollower forwards PINGs to the bridged clock authority
	ClockFollower bool `yaml:"clock_follower"`
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		Addr:           ":8787",
		AllowedOrigins: []string{"*"},
		Connection:     DefaultConnectionConfig(),
	}
}

// Service exposes the hub over HTTP
type Service struct {
	config   Config
	hub      *Hub
	bridge   Bridge
	health   *HealthChecker
	upgrader websocket.Upgrader
}

// NewService creates a relay service. bridge may be nil.
func NewService(config Config, clock clockwork.Clock, bridge Bridge) *Service {
	var opts []HubOption
	if bridge != nil {
		opts = append(opts, WithBridge(bridge))
	}
	if config.ClockFollower {
		opts = append(opts, WithClockFollower())
	}
	hub := NewHub(clock, opts...)
	return &Service{
		config: config,
		hub:    hub,
		bridge: bridge,
		health: NewHealthChecker(hub, bridge, clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.Connection.ReadBufferSize,
			WriteBufferSize: config.Connection.WriteBufferSize,
			CheckOrigin:     config.Connection.CheckOrigin,
		},
	}
}

// Hub returns the underlying hub
func (s *Service) Hub() *Hub { return s.hub }

// HandleWebSocket upgrades the request and serves the connection until it closes
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, s.hub, s.config.Connection, r.RemoteAddr)
	log.Info().
		Str("connection_id", c.ID()).
		Str("remote_addr", c.RemoteAddr()).
		Msg("WebSocket connection established")

	c.serve(context.WithoutCancel(r.Context()))
}

// RegisterRoutes registers the relay HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(WebSocketPath, s.HandleWebSocket)
	mux.Handle("/health", s.health)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the full HTTP handler with CORS and h2c applied
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Start serves the bridge until ctx is done and then closes it
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay service")
	err := s.hub.Run(ctx)
	if s.bridge != nil {
		if cerr := s.bridge.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close bridge")
		}
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay bridge: %w", err)
	}
	log.Info().Msg("relay service stopped")
	return nil
}
