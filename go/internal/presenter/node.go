package presenter

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/reliable"
)

// Transport sends raw frames to the relay
type Transport interface {
	Send(raw []byte) error
}

// NodeConfig configures a Node
type NodeConfig struct {
	ID        string
	Engine    EngineConfig
	ClockSync clocksync.Config
	DedupSize int
}

// Node connects an Engine to the relay: it synchronizes the network clock,
// decodes inbound commands, answers them with ACK or ERROR and broadcasts
// the engine's keyframes.
type Node struct {
	id        string
	transport Transport
	clock     *clocksync.NetworkClock
	engine    *Engine
	dedup     *reliable.Deduper
	prober    *clocksync.Prober
	sync      *clocksync.Synchronizer
	logger    zerolog.Logger
}

// NewNode wires a presenter node on top of transport
func NewNode(cfg NodeConfig, transport Transport, clock *clocksync.NetworkClock) (*Node, error) {
	dedup, err := reliable.NewDeduper(cfg.DedupSize)
	if err != nil {
		return nil, err
	}
	n := &Node{
		id:        cfg.ID,
		transport: transport,
		clock:     clock,
		dedup:     dedup,
		logger:    log.With().Str("component", "presenter").Str("node", cfg.ID).Logger(),
	}
	n.prober = clocksync.NewProber(transport, clock.Local(), cfg.ID, cfg.ClockSync.Timeout)
	n.sync = clocksync.NewSynchronizer(n.prober, clock, cfg.ClockSync)
	n.engine = NewEngine(clock, cfg.Engine, n.broadcastKeyframe)
	return n, nil
}

// ID returns the node ID stamped on outgoing frames
func (n *Node) ID() string { return n.id }

// Engine returns the node's engine
func (n *Node) Engine() *Engine { return n.engine }

// Synchronizer returns the clock synchronizer
func (n *Node) Synchronizer() *clocksync.Synchronizer { return n.sync }

// Start performs the initial clock sync. A failed sync is logged and the
// node runs on the local clock until a later round succeeds.
func (n *Node) Start(ctx context.Context) error {
	if _, err := n.sync.Synchronize(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Warn().Err(err).Msg("initial clock sync failed, using local clock")
	}
	return nil
}

// Run keeps the clock synchronized until ctx is done
func (n *Node) Run(ctx context.Context) error {
	err := n.sync.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnReconnect re-synchronizes and re-announces the current state after the
// transport reconnects.
func (n *Node) OnReconnect(ctx context.Context) {
	go func() {
		if _, err := n.sync.Synchronize(ctx); err != nil && ctx.Err() == nil {
			n.logger.Warn().Err(err).Msg("clock resync after reconnect failed")
		}
		n.engine.RequestKeyframe()
	}()
}

// HandleFrame processes one inbound frame
func (n *Node) HandleFrame(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		n.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if env.From == n.id {
		return
	}

	switch {
	case env.Type == protocol.TypePong:
		pong, err := protocol.DecodePayload[protocol.PongPayload](env)
		if err != nil {
			n.logger.Warn().Err(err).Msg("bad pong")
			return
		}
		n.prober.HandlePong(pong)
	case env.Type == protocol.TypeRequestKF:
		n.engine.RequestKeyframe()
	case env.Type == protocol.TypePeers:
		if p, err := protocol.DecodePayload[protocol.PeersPayload](env); err == nil {
			n.logger.Debug().Int("connected_peers", p.ConnectedPeers).Msg("peer set changed")
		}
	case protocol.IsCommand(env.Type):
		n.handleCommand(env)
	}
}

func (n *Node) handleCommand(env protocol.Envelope) {
	if reply, dup := n.dedup.Check(env.From, env.Seq); dup {
		n.logger.Debug().Str("from", env.From).Uint64("seq", env.Seq).Msg("duplicate command")
		if reply != nil {
			n.send(reply)
		}
		return
	}

	var reply []byte
	cmd, err := DecodeCommand(env)
	if err != nil {
		reply = n.errorReply(env, reject(protocol.CodeInvalidState, "malformed %s: %v", env.Type, err))
	} else if res, err := n.engine.Apply(cmd); err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			cmdErr = reject(protocol.CodeInvalidState, "%v", err)
		}
		reply = n.errorReply(env, cmdErr)
	} else if protocol.RequiresAck(env.Type) {
		reply = n.encode(protocol.TypeAck, protocol.AckPayload{
			OriginalSeq:   env.Seq,
			ScriptVersion: res.ScriptVersion,
			To:            env.From,
		})
		if res.Duplicate {
			n.logger.Info().Int("script_version", res.ScriptVersion).Msg("script already loaded")
		}
	}

	n.dedup.Record(env.From, env.Seq, reply)
	if reply != nil {
		n.send(reply)
	}
}

func (n *Node) errorReply(env protocol.Envelope, cmdErr *CommandError) []byte {
	n.logger.Info().
		Str("type", string(env.Type)).
		Str("from", env.From).
		Str("code", string(cmdErr.Code)).
		Msg(cmdErr.Message)
	return n.encode(protocol.TypeError, protocol.ErrorPayload{
		Code:                  cmdErr.Code,
		Message:               cmdErr.Message,
		ExpectedScriptVersion: n.engine.Snapshot().ScriptVersion(),
		OriginalSeq:           env.Seq,
		To:                    env.From,
	})
}

func (n *Node) broadcastKeyframe(kf protocol.KeyframePayload) {
	raw := n.encode(protocol.TypeKeyframe, kf)
	if raw == nil {
		return
	}
	n.send(raw)
	n.logger.Debug().
		Str("reason", string(kf.Reason)).
		Float64("line", kf.FractionalLine).
		Bool("playing", kf.Playing).
		Msg("keyframe sent")
}

func (n *Node) encode(t protocol.MessageType, payload any) []byte {
	raw, err := protocol.Encode(t, payload, n.id, n.clock.Now())
	if err != nil {
		n.logger.Error().Err(err).Str("type", string(t)).Msg("failed to encode")
		return nil
	}
	return raw
}

func (n *Node) send(raw []byte) {
	if err := n.transport.Send(raw); err != nil {
		n.logger.Warn().Err(err).Msg("send failed")
	}
}

// Close stops the engine
func (n *Node) Close() {
	n.engine.Close()
}
