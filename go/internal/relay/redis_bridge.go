package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBridgeConfig holds configuration for the Redis bridge
type RedisBridgeConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DefaultRedisBridgeConfig returns default Redis bridge configuration
func DefaultRedisBridgeConfig() RedisBridgeConfig {
	return RedisBridgeConfig{
		Addr:    "localhost:6379",
		Channel: DefaultBridgeSubject,
	}
}

// RedisBridge relays frames over Redis pub/sub
type RedisBridge struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	connected  atomic.Bool
}

// NewRedisBridge connects to Redis and verifies the connection
func NewRedisBridge(ctx context.Context, config RedisBridgeConfig, instanceID string) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	channel := config.Channel
	if channel == "" {
		channel = DefaultBridgeSubject
	}
	b := &RedisBridge{rdb: rdb, channel: channel, instanceID: instanceID}
	b.connected.Store(true)
	return b, nil
}

func (b *RedisBridge) Name() string { return "redis" }

func (b *RedisBridge) Publish(ctx context.Context, raw []byte) error {
	frame, err := encodeBridgeFrame(b.instanceID, raw)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, frame).Err(); err != nil {
		b.connected.Store(false)
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	b.connected.Store(true)
	return nil
}

func (b *RedisBridge) Subscribe(ctx context.Context, deliver func(raw []byte)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		b.connected.Store(false)
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			raw, err := decodeBridgeFrame(b.instanceID, []byte(msg.Payload))
			if errors.Is(err, ErrOwnFrame) {
				continue
			}
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping bridge frame")
				continue
			}
			deliver(raw)
		}
	}
}

func (b *RedisBridge) Connected() bool { return b.connected.Load() }

func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}
