package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/cuesync/go/internal/protocol"
)

// ErrExchangeTimeout is returned when no PONG arrives in time
var ErrExchangeTimeout = errors.New("clocksync: pong timeout")

// Transport sends raw frames to the relay
type Transport interface {
	Send(raw []byte) error
}

// Prober performs PING/PONG exchanges over a shared transport. Incoming PONG
// frames must be routed to HandlePong by the owner of the read loop.
type Prober struct {
	transport Transport
	clock     clockwork.Clock
	from      string
	timeout   time.Duration

	mu      sync.Mutex
	nonce   uint64
	waiting map[uint64]chan protocol.PongPayload
}

// NewProber creates a prober that stamps PINGs with clock and gives up on a
// reply after timeout.
func NewProber(transport Transport, clock clockwork.Clock, from string, timeout time.Duration) *Prober {
	return &Prober{
		transport: transport,
		clock:     clock,
		from:      from,
		timeout:   timeout,
		waiting:   make(map[uint64]chan protocol.PongPayload),
	}
}

// Exchange sends one PING and waits for the matching PONG, returning the
// server's clock reading.
func (p *Prober) Exchange(ctx context.Context) (time.Time, error) {
	p.mu.Lock()
	p.nonce++
	nonce := p.nonce
	reply := make(chan protocol.PongPayload, 1)
	p.waiting[nonce] = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiting, nonce)
		p.mu.Unlock()
	}()

	now := p.clock.Now()
	raw, err := protocol.Encode(protocol.TypePing, protocol.PingPayload{
		Nonce:          nonce,
		ClientSendTime: now.UnixMilli(),
	}, p.from, now)
	if err != nil {
		return time.Time{}, err
	}

	timer := p.clock.NewTimer(p.timeout)
	defer timer.Stop()

	if err := p.transport.Send(raw); err != nil {
		return time.Time{}, fmt.Errorf("send ping: %w", err)
	}

	select {
	case pong := <-reply:
		return protocol.MillisToTime(pong.ServerTime), nil
	case <-timer.Chan():
		return time.Time{}, ErrExchangeTimeout
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

// HandlePong delivers a PONG to the waiting exchange. It reports false for
// unknown or late nonces.
func (p *Prober) HandlePong(pong protocol.PongPayload) bool {
	p.mu.Lock()
	reply, ok := p.waiting[pong.Nonce]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case reply <- pong:
		return true
	default:
		return false
	}
}
