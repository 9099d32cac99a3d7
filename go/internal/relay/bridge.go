package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultBridgeSubject is the NATS subject / Redis channel shared by relay instances
const DefaultBridgeSubject = "cuesync.relay.frames"

// ErrOwnFrame is returned by decodeBridgeFrame for frames this instance published
var ErrOwnFrame = errors.New("relay: own bridge frame")

// Bridge fans frames out between relay instances serving the same session
type Bridge interface {
	Name() string
	Publish(ctx context.Context, raw []byte) error
	// Subscribe delivers frames published by other instances until ctx is done
	Subscribe(ctx context.Context, deliver func(raw []byte)) error
	Connected() bool
	Close() error
}

// bridgeFrame wraps a relayed frame with the publishing instance
type bridgeFrame struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

func encodeBridgeFrame(origin string, raw []byte) ([]byte, error) {
	b, err := json.Marshal(bridgeFrame{Origin: origin, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode bridge frame: %w", err)
	}
	return b, nil
}

func decodeBridgeFrame(self string, b []byte) ([]byte, error) {
	var f bridgeFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode bridge frame: %w", err)
	}
	if f.Origin == self {
		return nil, ErrOwnFrame
	}
	return f.Data, nil
}
