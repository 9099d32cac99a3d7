package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuesync/go/internal/protocol"
)

// fakePeer records frames; full makes Enqueue fail like a stuck buffer
type fakePeer struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(raw []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.frames = append(p.frames, raw)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) setFull() {
	p.mu.Lock()
	p.full = true
	p.mu.Unlock()
}

// received returns non-PEERS frames
func (p *fakePeer) received(t *testing.T) [][]byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, f := range p.frames {
		typ, err := protocol.PeekType(f)
		require.NoError(t, err)
		if typ != protocol.TypePeers {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakePeer) lastPeers(t *testing.T) int {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		env, err := protocol.Decode(p.frames[i])
		require.NoError(t, err)
		if env.Type == protocol.TypePeers {
			pl, err := protocol.DecodePayload[protocol.PeersPayload](env)
			require.NoError(t, err)
			return pl.ConnectedPeers
		}
	}
	return -1
}

func TestBroadcastSkipsSender(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClock())
	peers := []*fakePeer{newFakePeer("a"), newFakePeer("b"), newFakePeer("c"), newFakePeer("d")}
	for _, p := range peers {
		hub.Register(p)
	}
	require.Equal(t, 4, hub.Count())

	frame := []byte(`{"type":"KF","data":{"lineIndex":3}}`)
	hub.HandleInbound(context.Background(), peers[0], frame)

	require.Empty(t, peers[0].received(t))
	for _, p := range peers[1:] {
		got := p.received(t)
		require.Len(t, got, 1)
		require.Equal(t, frame, got[0], "frames are forwarded byte for byte")
	}
}

func TestBroadcastDropsFailedPeerAndContinues(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClock())
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)

	b.setFull()
	delivered := hub.Broadcast(a, []byte(`{"type":"PAUSE"}`))
	require.Equal(t, 1, delivered)
	require.Len(t, c.received(t), 1)
	require.Equal(t, 2, hub.Count())
	require.True(t, b.closed)
	require.Equal(t, 2, c.lastPeers(t))
}

func TestRegisterAnnouncesPeerCount(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClock())
	a, b := newFakePeer("a"), newFakePeer("b")
	hub.Register(a)
	require.Equal(t, 1, a.lastPeers(t))
	hub.Register(b)
	require.Equal(t, 2, a.lastPeers(t))
	require.Equal(t, 2, b.lastPeers(t))

	hub.Unregister(b)
	hub.Unregister(b)
	require.Equal(t, 1, a.lastPeers(t))
	require.Equal(t, 1, hub.Count())
}

func TestHubAnswersPing(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_500))
	hub := NewHub(fc)
	a, b := newFakePeer("a"), newFakePeer("b")
	hub.Register(a)
	hub.Register(b)

	ping, err := protocol.Encode(protocol.TypePing, protocol.PingPayload{Nonce: 7, ClientSendTime: 42}, "a", time.UnixMilli(42))
	require.NoError(t, err)
	hub.HandleInbound(context.Background(), a, ping)

	require.Empty(t, b.received(t), "pings are not forwarded")
	got := a.received(t)
	require.Len(t, got, 1)
	env, err := protocol.Decode(got[0])
	require.NoError(t, err)
	require.Equal(t, protocol.TypePong, env.Type)
	pong, err := protocol.DecodePayload[protocol.PongPayload](env)
	require.NoError(t, err)
	require.Equal(t, protocol.PongPayload{Nonce: 7, ClientSendTime: 42, ServerTime: 1_700_000_000_500}, pong)
}

// linkedBridge connects hubs in-process and applies the same origin
// filtering as the real bridges
type linkedBridge struct {
	id   string
	net  *bridgeNet
	mu   sync.Mutex
	sink func([]byte)
}

type bridgeNet struct {
	mu      sync.Mutex
	members []*linkedBridge
}

func (n *bridgeNet) join(id string) *linkedBridge {
	b := &linkedBridge{id: id, net: n}
	n.mu.Lock()
	n.members = append(n.members, b)
	n.mu.Unlock()
	return b
}

func (b *linkedBridge) Name() string { return "linked" }

func (b *linkedBridge) Publish(ctx context.Context, raw []byte) error {
	frame, err := encodeBridgeFrame(b.id, raw)
	if err != nil {
		return err
	}
	b.net.mu.Lock()
	members := append([]*linkedBridge(nil), b.net.members...)
	b.net.mu.Unlock()
	for _, m := range members {
		m.receive(frame)
	}
	return nil
}

func (b *linkedBridge) receive(frame []byte) {
	raw, err := decodeBridgeFrame(b.id, frame)
	if err != nil {
		return
	}
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink(raw)
	}
}

func (b *linkedBridge) Subscribe(ctx context.Context, deliver func(raw []byte)) error {
	b.mu.Lock()
	b.sink = deliver
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *linkedBridge) Connected() bool { return true }
func (b *linkedBridge) Close() error    { return nil }

func TestBridgeFansOutAcrossInstances(t *testing.T) {
	network := &bridgeNet{}
	b1, b2 := network.join("relay-1"), network.join("relay-2")
	hub1 := NewHub(clockwork.NewFakeClock(), WithBridge(b1))
	hub2 := NewHub(clockwork.NewFakeClock(), WithBridge(b2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub1.Run(ctx)
	go hub2.Run(ctx)
	require.Eventually(t, func() bool {
		b1.mu.Lock()
		defer b1.mu.Unlock()
		b2.mu.Lock()
		defer b2.mu.Unlock()
		return b1.sink != nil && b2.sink != nil
	}, time.Second, time.Millisecond)

	ctrl, local, remote := newFakePeer("ctrl"), newFakePeer("local"), newFakePeer("remote")
	hub1.Register(ctrl)
	hub1.Register(local)
	hub2.Register(remote)

	frame := []byte(`{"type":"PLAY","seq":1}`)
	hub1.HandleInbound(ctx, ctrl, frame)

	require.Len(t, local.received(t), 1, "no echo of own bridge frame")
	require.Empty(t, ctrl.received(t))
	got := remote.received(t)
	require.Len(t, got, 1)
	require.Equal(t, frame, got[0])
}

func TestClockFollowersShareAuthorityClock(t *testing.T) {
	network := &bridgeNet{}
	b1, b2, b3 := network.join("relay-1"), network.join("relay-2"), network.join("relay-3")
	follower := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000)), WithBridge(b1), WithClockFollower())
	authority := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_004_000)), WithBridge(b2))
	other := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_699_999_990_000)), WithBridge(b3), WithClockFollower())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, h := range []*Hub{follower, authority, other} {
		go h.Run(ctx)
	}
	require.Eventually(t, func() bool {
		for _, b := range []*linkedBridge{b1, b2, b3} {
			b.mu.Lock()
			ready := b.sink != nil
			b.mu.Unlock()
			if !ready {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	pinger, remote := newFakePeer("pinger"), newFakePeer("remote")
	follower.Register(pinger)
	authority.Register(remote)

	ping, err := protocol.Encode(protocol.TypePing, protocol.PingPayload{Nonce: 9, ClientSendTime: 1}, "pinger", time.UnixMilli(1))
	require.NoError(t, err)
	follower.HandleInbound(ctx, pinger, ping)

	got := pinger.received(t)
	require.Len(t, got, 1, "exactly one pong, from the authority")
	env, err := protocol.Decode(got[0])
	require.NoError(t, err)
	require.Equal(t, protocol.TypePong, env.Type)
	pong, err := protocol.DecodePayload[protocol.PongPayload](env)
	require.NoError(t, err)
	require.Equal(t, uint64(9), pong.Nonce)
	require.Equal(t, int64(1_700_000_004_000), pong.ServerTime)

	require.Empty(t, remote.received(t), "pings and pongs stay off the authority's peers")
}

func TestBridgeFrameOrigin(t *testing.T) {
	raw := []byte(`{"type":"KF"}`)
	frame, err := encodeBridgeFrame("x", raw)
	require.NoError(t, err)

	_, err = decodeBridgeFrame("x", frame)
	require.ErrorIs(t, err, ErrOwnFrame)

	got, err := decodeBridgeFrame("y", frame)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	_, err = decodeBridgeFrame("y", []byte("nope"))
	require.Error(t, err)
}
