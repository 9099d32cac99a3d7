package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/reliable"
	"github.com/mcdev12/cuesync/go/internal/script"
)

// Transport sends raw frames to the relay
type Transport interface {
	Send(raw []byte) error
}

// Config configures a Controller
type Config struct {
	ID         string
	Params     script.Params
	AckTimeout time.Duration
	Simulator  SimulatorConfig
	ClockSync  clocksync.Config
}

// Controller issues commands to the presenter and tracks its state
type Controller struct {
	id        string
	transport Transport
	clock     *clocksync.NetworkClock
	sender    *reliable.Sender
	prober    *clocksync.Prober
	sync      *clocksync.Synchronizer
	sim       *Simulator
	logger    zerolog.Logger

	mu      sync.RWMutex
	version int
	params  script.Params
}

// New creates a controller on top of transport. Inbound frames must be fed
// to HandleFrame.
func New(cfg Config, transport Transport, clock *clocksync.NetworkClock) *Controller {
	c := &Controller{
		id:        cfg.ID,
		transport: transport,
		clock:     clock,
		params:    cfg.Params,
		logger:    log.With().Str("component", "controller").Str("node", cfg.ID).Logger(),
	}
	var opts []reliable.Option
	if cfg.AckTimeout > 0 {
		opts = append(opts, reliable.WithAckTimeout(cfg.AckTimeout))
	}
	c.sender = reliable.NewSender(transport, clock, cfg.ID, opts...)
	c.prober = clocksync.NewProber(transport, clock.Local(), cfg.ID, cfg.ClockSync.Timeout)
	c.sync = clocksync.NewSynchronizer(c.prober, clock, cfg.ClockSync)
	c.sim = NewSimulator(clock, cfg.Simulator, func() {
		if err := c.RequestKeyframe(); err != nil {
			c.logger.Warn().Err(err).Msg("keyframe request failed")
		}
	})
	return c
}

// ID returns the node ID stamped on outgoing frames
func (c *Controller) ID() string { return c.id }

// Simulator returns the ghost simulator
func (c *Controller) Simulator() *Simulator { return c.sim }

// Synchronizer returns the clock synchronizer
func (c *Controller) Synchronizer() *clocksync.Synchronizer { return c.sync }

// Version is the presenter's script version as last observed
func (c *Controller) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Params returns the parameters this controller last pushed. The presenter's
// effective parameters travel in keyframes.
func (c *Controller) Params() script.Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

func (c *Controller) observeVersion(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v != c.version {
		c.logger.Debug().Int("from", c.version).Int("to", v).Msg("script version updated")
		c.version = v
	}
}

// Synchronize runs one clock sync round against the relay
func (c *Controller) Synchronize(ctx context.Context) (clocksync.Estimate, error) {
	return c.sync.Synchronize(ctx)
}

// Run keeps the clock synchronized until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	err := c.sync.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OnReconnect re-synchronizes the clock and asks for a fresh keyframe
func (c *Controller) OnReconnect(ctx context.Context) {
	go func() {
		if _, err := c.sync.Synchronize(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("clock resync after reconnect failed")
		}
		if err := c.RequestKeyframe(); err != nil {
			c.logger.Warn().Err(err).Msg("keyframe request after reconnect failed")
		}
	}()
}

// HandleFrame processes one inbound frame
func (c *Controller) HandleFrame(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if env.From == c.id {
		return
	}

	switch env.Type {
	case protocol.TypePong:
		if pong, err := protocol.DecodePayload[protocol.PongPayload](env); err == nil {
			c.prober.HandlePong(pong)
		}
	case protocol.TypeKeyframe:
		kf, err := protocol.DecodePayload[protocol.KeyframePayload](env)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad keyframe")
			return
		}
		c.sim.HandleKeyframe(kf)
		c.observeVersion(kf.ScriptVersion)
	case protocol.TypeAck:
		ack, err := protocol.DecodePayload[protocol.AckPayload](env)
		if err != nil {
			return
		}
		if c.sender.HandleAck(ack) {
			c.observeVersion(ack.ScriptVersion)
		}
	case protocol.TypeError:
		e, err := protocol.DecodePayload[protocol.ErrorPayload](env)
		if err != nil || (e.To != "" && e.To != c.id) {
			return
		}
		c.sender.HandleError(e)
		if e.Code == protocol.CodeVersionMismatch {
			c.observeVersion(e.ExpectedScriptVersion)
		}
		c.logger.Warn().
			Str("code", string(e.Code)).
			Uint64("seq", e.OriginalSeq).
			Msg(e.Message)
	case protocol.TypePeers:
		if p, err := protocol.DecodePayload[protocol.PeersPayload](env); err == nil {
			c.logger.Info().Int("connected_peers", p.ConnectedPeers).Msg("peer set changed")
		}
	}
}

// command sends a command payload and, for acknowledged types, waits for
// the outcome.
func (c *Controller) command(ctx context.Context, t protocol.MessageType, payload any) (reliable.AckResult, error) {
	d, err := c.sender.Send(t, payload, protocol.RequiresAck(t))
	if err != nil {
		return reliable.AckResult{}, err
	}
	res, err := d.Wait(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: %w", t, err)
	}
	return res, nil
}

func (c *Controller) header() protocol.CommandHeader {
	return protocol.CommandHeader{ScriptVersion: c.Version()}
}

// Load replaces the presenter's script and pushes the controller's
// parameters so the presenter ends up READY. It returns the new version.
func (c *Controller) Load(ctx context.Context, content string) (int, error) {
	res, err := c.command(ctx, protocol.TypeLoadScript, protocol.LoadScriptPayload{
		CommandHeader: c.header(),
		Content:       content,
		TextHash:      script.Fingerprint(content),
	})
	if err != nil {
		return 0, err
	}
	c.observeVersion(res.ScriptVersion)

	p := c.Params()
	patch := script.ParamsPatch{
		SpeedLinesPerMinute:  &p.SpeedLinesPerMinute,
		FontSize:             &p.FontSize,
		LineHeightMultiplier: &p.LineHeightMultiplier,
		MirrorHorizontal:     &p.MirrorHorizontal,
		MirrorVertical:       &p.MirrorVertical,
		Margins:              &p.Margins,
	}
	if err := c.SetParams(ctx, patch); err != nil {
		return res.ScriptVersion, err
	}
	c.logger.Info().Int("script_version", res.ScriptVersion).Msg("script loaded")
	return res.ScriptVersion, nil
}

// SetParams sends a partial parameter update
func (c *Controller) SetParams(ctx context.Context, patch script.ParamsPatch) error {
	if _, err := c.command(ctx, protocol.TypeSetParams, protocol.SetParamsPayload{
		CommandHeader: c.header(),
		Params:        patch,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.params, _ = c.params.Apply(patch)
	c.mu.Unlock()
	return nil
}

// Play starts playback lead from now in network time; a zero lead starts
// as soon as the presenter receives the command.
func (c *Controller) Play(ctx context.Context, lead time.Duration) error {
	payload := protocol.PlayPayload{CommandHeader: c.header()}
	if lead > 0 {
		payload.StartAt = c.clock.Now().Add(lead).UnixMilli()
	}
	_, err := c.command(ctx, protocol.TypePlay, payload)
	return err
}

// Pause freezes playback
func (c *Controller) Pause(ctx context.Context) error {
	_, err := c.command(ctx, protocol.TypePause, protocol.PausePayload{CommandHeader: c.header()})
	return err
}

// SeekAbs moves to an absolute line. Seeks are not acknowledged; rejections
// arrive as ERROR frames.
func (c *Controller) SeekAbs(line int) error {
	_, err := c.command(context.Background(), protocol.TypeSeekAbs, protocol.SeekAbsPayload{
		CommandHeader: c.header(),
		LineIndex:     line,
	})
	return err
}

// SeekRel moves by delta lines
func (c *Controller) SeekRel(delta float64) error {
	_, err := c.command(context.Background(), protocol.TypeSeekRel, protocol.SeekRelPayload{
		CommandHeader: c.header(),
		Delta:         delta,
	})
	return err
}

// JumpTop moves to the first line
func (c *Controller) JumpTop() error {
	_, err := c.command(context.Background(), protocol.TypeJumpTop, protocol.JumpPayload{CommandHeader: c.header()})
	return err
}

// JumpEnd moves to the last line
func (c *Controller) JumpEnd() error {
	_, err := c.command(context.Background(), protocol.TypeJumpEnd, protocol.JumpPayload{CommandHeader: c.header()})
	return err
}

// RequestKeyframe asks the presenter for an immediate keyframe
func (c *Controller) RequestKeyframe() error {
	_, err := c.sender.Send(protocol.TypeRequestKF, protocol.RequestKeyframePayload{ScriptVersion: c.Version()}, false)
	return err
}

// Status summarizes the controller's view for display
type Status struct {
	Version     int
	Phase       SimPhase
	Position    float64
	Quality     Quality
	KeyframeAge time.Duration
	Offset      time.Duration
	Pending     int
}

// Status returns a snapshot for display
func (c *Controller) Status() Status {
	age, _ := c.sim.KeyframeAge()
	return Status{
		Version:     c.Version(),
		Phase:       c.sim.Phase(),
		Position:    c.sim.Position().FractionalLine,
		Quality:     c.sim.Quality(),
		KeyframeAge: age,
		Offset:      c.clock.Offset(),
		Pending:     c.sender.Pending(),
	}
}

// Close abandons pending deliveries and stops the simulator loop
func (c *Controller) Close() {
	c.sender.Close()
	c.sim.Stop()
}
