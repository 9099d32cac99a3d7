package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSBridgeConfig holds configuration for the NATS bridge
type NATSBridgeConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DefaultNATSBridgeConfig returns default NATS bridge configuration
func DefaultNATSBridgeConfig() NATSBridgeConfig {
	return NATSBridgeConfig{
		URL:           nats.DefaultURL,
		Subject:       DefaultBridgeSubject,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBridge relays frames over core NATS pub/sub
type NATSBridge struct {
	nc         *nats.Conn
	subject    string
	instanceID string
}

// NewNATSBridge connects to NATS
func NewNATSBridge(config NATSBridgeConfig, instanceID string) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("cuesync-relay-" + instanceID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	subject := config.Subject
	if subject == "" {
		subject = DefaultBridgeSubject
	}
	return &NATSBridge{nc: nc, subject: subject, instanceID: instanceID}, nil
}

func (b *NATSBridge) Name() string { return "nats" }

func (b *NATSBridge) Publish(ctx context.Context, raw []byte) error {
	frame, err := encodeBridgeFrame(b.instanceID, raw)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, frame); err != nil {
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	return nil
}

func (b *NATSBridge) Subscribe(ctx context.Context, deliver func(raw []byte)) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		raw, err := decodeBridgeFrame(b.instanceID, msg.Data)
		if errors.Is(err, ErrOwnFrame) {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping bridge frame")
			return
		}
		deliver(raw)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

func (b *NATSBridge) Connected() bool { return b.nc.IsConnected() }

func (b *NATSBridge) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
