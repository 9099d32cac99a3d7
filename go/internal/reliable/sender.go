// Package reliable adds sequence numbers, acknowledgements and a single
// bounded retry on top of a best-effort transport.
package reliable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/protocol"
)

const DefaultAckTimeout = 500 * time.Millisecond

var (
	// ErrDeliveryTimeout is returned when neither the send nor its one retry was acknowledged
	ErrDeliveryTimeout = errors.New("reliable: delivery timed out")
	// ErrClosed is returned for deliveries abandoned by Close
	ErrClosed = errors.New("reliable: sender closed")
)

// Transport sends raw frames
type Transport interface {
	Send(raw []byte) error
}

// AckResult is what a successful delivery resolves to
type AckResult struct {
	Seq           uint64
	ScriptVersion int
}

// Delivery tracks one sent message until it is acknowledged, rejected or abandoned
type Delivery struct {
	Seq  uint64
	Type protocol.MessageType

	once   sync.Once
	done   chan struct{}
	result AckResult
	err    error
}

func newDelivery(seq uint64, t protocol.MessageType) *Delivery {
	return &Delivery{Seq: seq, Type: t, done: make(chan struct{})}
}

func (d *Delivery) finish(res AckResult, err error) {
	d.once.Do(func() {
		d.result = res
		d.err = err
		close(d.done)
	})
}

// Done is closed once the delivery has an outcome
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the delivery completes or ctx is done
func (d *Delivery) Wait(ctx context.Context) (AckResult, error) {
	select {
	case <-d.done:
		return d.result, d.err
	case <-ctx.Done():
		return AckResult{}, ctx.Err()
	}
}

// pendingAck is an in-flight message awaiting ACK
type pendingAck struct {
	seq      uint64
	raw      []byte
	sentAt   time.Time
	retried  bool
	timer    clockwork.Timer
	delivery *Delivery
}

// Option configures a Sender
type Option func(*Sender)

// WithAckTimeout overrides DefaultAckTimeout
func WithAckTimeout(d time.Duration) Option {
	return func(s *Sender) {
		s.timeout = d
	}
}

// Sender assigns sequence numbers and tracks acknowledgements
type Sender struct {
	transport Transport
	clock     clockwork.Clock
	from      string
	timeout   time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*pendingAck
	closed  bool
}

// NewSender creates a sender stamping messages as from
func NewSender(transport Transport, clock clockwork.Clock, from string, opts ...Option) *Sender {
	s := &Sender{
		transport: transport,
		clock:     clock,
		from:      from,
		timeout:   DefaultAckTimeout,
		pending:   make(map[uint64]*pendingAck),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send encodes payload under the next sequence number and sends it. When
// expectAck is false the returned delivery is already complete.
func (s *Sender) Send(t protocol.MessageType, payload any, expectAck bool) (*Delivery, error) {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.seq++
	seq := s.seq
	now := s.clock.Now()
	env.Seq = seq
	env.From = s.from
	env.Timestamp = now.UnixMilli()
	raw, err := env.Marshal()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	d := newDelivery(seq, t)
	if expectAck {
		p := &pendingAck{seq: seq, raw: raw, sentAt: now, delivery: d}
		p.timer = s.clock.AfterFunc(s.timeout, func() { s.onTimeout(seq) })
		s.pending[seq] = p
	}
	s.mu.Unlock()

	if err := s.transport.Send(raw); err != nil {
		s.abandon(seq)
		return nil, fmt.Errorf("send %s seq %d: %w", t, seq, err)
	}
	if !expectAck {
		d.finish(AckResult{Seq: seq}, nil)
	}
	return d, nil
}

func (s *Sender) onTimeout(seq uint64) {
	s.mu.Lock()
	p, ok := s.pending[seq]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.retried {
		delete(s.pending, seq)
		s.mu.Unlock()
		log.Warn().
			Uint64("seq", seq).
			Str("type", string(p.delivery.Type)).
			Msg("no ack after retry, giving up")
		p.delivery.finish(AckResult{}, fmt.Errorf("%w: seq %d", ErrDeliveryTimeout, seq))
		return
	}
	p.retried = true
	p.sentAt = s.clock.Now()
	p.timer = s.clock.AfterFunc(s.timeout, func() { s.onTimeout(seq) })
	raw := p.raw
	s.mu.Unlock()

	log.Debug().Uint64("seq", seq).Msg("ack timeout, resending")
	if err := s.transport.Send(raw); err != nil {
		log.Warn().Err(err).Uint64("seq", seq).Msg("resend failed")
	}
}

func (s *Sender) abandon(seq uint64) *pendingAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[seq]
	if !ok {
		return nil
	}
	delete(s.pending, seq)
	p.timer.Stop()
	return p
}

func (s *Sender) addressed(to string) bool {
	return to == "" || to == s.from
}

// HandleAck completes the delivery matching ack. It reports whether ack
// matched a pending delivery of this sender.
func (s *Sender) HandleAck(ack protocol.AckPayload) bool {
	if !s.addressed(ack.To) {
		return false
	}
	p := s.abandon(ack.OriginalSeq)
	if p == nil {
		return false
	}
	p.delivery.finish(AckResult{Seq: ack.OriginalSeq, ScriptVersion: ack.ScriptVersion}, nil)
	return true
}

// HandleError fails the matching delivery with the rejection; it is not retried
func (s *Sender) HandleError(e protocol.ErrorPayload) bool {
	if !s.addressed(e.To) || e.OriginalSeq == 0 {
		return false
	}
	p := s.abandon(e.OriginalSeq)
	if p == nil {
		return false
	}
	p.delivery.finish(AckResult{Seq: e.OriginalSeq}, &e)
	return true
}

// Pending returns the number of unacknowledged deliveries
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close abandons every pending delivery and rejects further sends
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint64]*pendingAck)
	s.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.delivery.finish(AckResult{}, ErrClosed)
	}
}
