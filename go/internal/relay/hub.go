// Package relay is the protocol-agnostic broadcast server. Every frame a peer
// sends is forwarded unmodified to every other peer; the only frame the relay
// interprets is PING, which it answers itself so all nodes share its clock.
// With a bridge, exactly one instance should answer PINGs; the others run as
// clock followers and forward PINGs to it so every node shares one time base.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/protocol"
)

// Peer is one connected endpoint as seen by the hub
type Peer interface {
	ID() string
	// Enqueue queues raw for delivery without blocking. It returns false if
	// the peer is closed or its buffer is full.
	Enqueue(raw []byte) bool
	Close()
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithBridge fans frames out to other relay instances
func WithBridge(b Bridge) HubOption {
	return func(h *Hub) {
		h.bridge = b
	}
}

// WithClockFollower forwards PINGs over the bridge instead of answering them,
// leaving the reply to the instance that is not a follower. It has no effect
// without a bridge.
func WithClockFollower() HubOption {
	return func(h *Hub) {
		h.clockFollower = true
	}
}

// WithPublishTimeout bounds a single bridge publish
func WithPublishTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.publishTimeout = d
	}
}

// Hub owns the peer set
type Hub struct {
	mu    sync.RWMutex
	peers map[string]Peer

	clock          clockwork.Clock
	bridge         Bridge
	publishTimeout time.Duration
	clockFollower  bool
}

// NewHub creates an empty hub answering PINGs from clock
func NewHub(clock clockwork.Clock, opts ...HubOption) *Hub {
	h := &Hub{
		peers:          make(map[string]Peer),
		clock:          clock,
		publishTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds p and announces the new peer count
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	count := len(h.peers)
	h.mu.Unlock()

	connectedPeers.Set(float64(count))
	log.Debug().
		Str("peer_id", p.ID()).
		Int("total_peers", count).
		Msg("peer registered")
	h.announcePeers(count)
}

// Unregister removes p. It is safe to call more than once.
func (h *Hub) Unregister(p Peer) {
	removed, count := h.remove(p)
	if len(removed) == 0 {
		return
	}
	log.Info().
		Str("peer_id", p.ID()).
		Int("total_peers", count).
		Msg("peer unregistered")
	h.announcePeers(count)
}

// Count returns the number of connected peers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// HandleInbound processes one frame received from sender
func (h *Hub) HandleInbound(ctx context.Context, sender Peer, raw []byte) {
	messagesIn.Inc()
	if typ, err := protocol.PeekType(raw); err == nil && typ == protocol.TypePing {
		if h.clockFollower && h.bridge != nil {
			h.publish(ctx, raw)
			return
		}
		h.answerPing(sender, raw)
		return
	}

	h.Broadcast(sender, raw)
	h.publish(ctx, raw)
}

// HandleRemote delivers a frame that arrived from another relay instance. A
// forwarded PING is answered over the bridge unless this hub is a follower;
// the PONG reaches every peer of the other instances and only the prober
// holding its nonce accepts it.
func (h *Hub) HandleRemote(raw []byte) {
	messagesBridge.Inc()
	if typ, err := protocol.PeekType(raw); err == nil && typ == protocol.TypePing {
		if h.clockFollower {
			return
		}
		pong, err := h.pong(raw)
		if err != nil {
			log.Debug().Err(err).Msg("dropping forwarded ping")
			return
		}
		pingsTotal.Inc()
		h.publish(context.Background(), pong)
		return
	}
	h.Broadcast(nil, raw)
}

func (h *Hub) publish(ctx context.Context, raw []byte) {
	if h.bridge == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, h.publishTimeout)
	defer cancel()
	if err := h.bridge.Publish(pctx, raw); err != nil {
		log.Warn().Err(err).Str("bridge", h.bridge.Name()).Msg("bridge publish failed")
	}
}

// Broadcast delivers raw to every peer except sender, which may be nil. Peers
// that cannot take the frame are dropped; delivery to the rest continues. It
// returns the number of peers the frame was queued for.
func (h *Hub) Broadcast(sender Peer, raw []byte) int {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		if sender != nil && p.ID() == sender.ID() {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	delivered := 0
	var dropped []Peer
	for _, p := range targets {
		if p.Enqueue(raw) {
			delivered++
			messagesOut.Inc()
			continue
		}
		dropped = append(dropped, p)
	}
	if len(dropped) > 0 {
		h.drop(dropped)
	}
	return delivered
}

// Run serves the bridge subscription until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	if h.bridge == nil {
		<-ctx.Done()
		return nil
	}
	log.Info().Str("bridge", h.bridge.Name()).Msg("relay bridge subscribed")
	return h.bridge.Subscribe(ctx, h.HandleRemote)
}

func (h *Hub) drop(peers []Peer) {
	removed, count := h.remove(peers...)
	for _, p := range removed {
		droppedPeers.Inc()
		log.Warn().
			Str("peer_id", p.ID()).
			Msg("peer send buffer full, closing connection")
		p.Close()
	}
	if len(removed) > 0 {
		h.announcePeers(count)
	}
}

func (h *Hub) remove(peers ...Peer) ([]Peer, int) {
	h.mu.Lock()
	var removed []Peer
	for _, p := range peers {
		if cur, ok := h.peers[p.ID()]; ok && cur == p {
			delete(h.peers, p.ID())
			removed = append(removed, p)
		}
	}
	count := len(h.peers)
	h.mu.Unlock()

	if len(removed) > 0 {
		connectedPeers.Set(float64(count))
	}
	return removed, count
}

func (h *Hub) announcePeers(count int) {
	raw, err := protocol.Encode(protocol.TypePeers, protocol.PeersPayload{ConnectedPeers: count}, "", h.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode peers event")
		return
	}
	h.Broadcast(nil, raw)
}

func (h *Hub) answerPing(sender Peer, raw []byte) {
	pong, err := h.pong(raw)
	if err != nil {
		log.Debug().Err(err).Str("peer_id", sender.ID()).Msg("dropping malformed ping")
		return
	}
	pingsTotal.Inc()
	if !sender.Enqueue(pong) {
		h.drop([]Peer{sender})
		return
	}
	messagesOut.Inc()
}

// pong builds the reply to a PING stamped with this hub's clock
func (h *Hub) pong(raw []byte) ([]byte, error) {
	env, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	ping, err := protocol.DecodePayload[protocol.PingPayload](env)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()
	return protocol.Encode(protocol.TypePong, protocol.PongPayload{
		Nonce:          ping.Nonce,
		ClientSendTime: ping.ClientSendTime,
		ServerTime:     now.UnixMilli(),
	}, "", now)
}
