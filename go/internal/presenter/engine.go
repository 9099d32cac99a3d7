// Package presenter owns the authoritative playback state. Commands are
// applied through a pure transition function and the engine carries out the
// resulting side effects: keyframe emission, the scheduled start timer and
// the periodic keyframe loop.
package presenter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
	"github.com/mcdev12/cuesync/go/internal/timeline"
)

const DefaultKeyframeInterval = 1200 * time.Millisecond

// KeyframeSink receives every keyframe in emission order
type KeyframeSink func(kf protocol.KeyframePayload)

// EngineConfig configures an Engine
type EngineConfig struct {
	KeyframeInterval time.Duration
	ViewportWidth    float64
	Params           script.Params
	Segmenter        script.Segmenter
}

// Result describes an applied command
type Result struct {
	ScriptVersion int
	Duplicate     bool
}

// Engine serializes commands against the session
type Engine struct {
	clock  clockwork.Clock
	cfg    EngineConfig
	sink   KeyframeSink
	logger zerolog.Logger

	mu         sync.Mutex
	session    Session
	startTimer clockwork.Timer
	startGen   uint64
	loopCancel context.CancelFunc
	loopGen    uint64
	closed     bool

	// held across sink calls so keyframes leave in the order they were taken
	emitMu sync.Mutex
}

// NewEngine creates an idle engine. clock must read network time.
func NewEngine(clock clockwork.Clock, cfg EngineConfig, sink KeyframeSink) *Engine {
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = DefaultKeyframeInterval
	}
	if cfg.Segmenter == nil {
		cfg.Segmenter = script.MonospaceSegmenter{}
	}
	if sink == nil {
		sink = func(protocol.KeyframePayload) {}
	}
	return &Engine{
		clock:   clock,
		cfg:     cfg,
		sink:    sink,
		logger:  log.With().Str("component", "presenter").Logger(),
		session: NewSession(cfg.Params, cfg.ViewportWidth),
	}
}

// Apply runs cmd through the state machine and performs its effects
func (e *Engine) Apply(cmd Command) (Result, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Result{}, reject(protocol.CodeInvalidState, "presenter closed")
	}
	now := e.clock.Now()
	next, fx, err := Transition(e.session, cmd, now, Env{Segmenter: e.cfg.Segmenter})
	if err != nil {
		version := e.session.ScriptVersion()
		e.mu.Unlock()
		e.logger.Debug().Err(err).Str("type", string(cmd.Type)).Int("script_version", version).Msg("command rejected")
		return Result{ScriptVersion: version}, err
	}

	prev := e.session.Phase
	e.session = next
	res := Result{ScriptVersion: next.ScriptVersion(), Duplicate: fx.Duplicate}

	if fx.CancelStart {
		e.cancelStartLocked()
	}
	if !fx.ScheduleStart.IsZero() {
		e.scheduleStartLocked(fx.ScheduleStart)
	}
	switch fx.Loop {
	case LoopStart:
		e.startLoopLocked()
	case LoopStop:
		e.stopLoopLocked()
	}

	if prev != next.Phase {
		e.logger.Info().
			Str("from", string(prev)).
			Str("to", string(next.Phase)).
			Int("script_version", res.ScriptVersion).
			Msg("phase changed")
	}
	e.emitLocked(now, fx.Keyframe)
	return res, nil
}

// RequestKeyframe emits a REQUESTED keyframe right away
func (e *Engine) RequestKeyframe() {
	e.mu.Lock()
	e.emitLocked(e.clock.Now(), protocol.ReasonRequested)
}

// emitLocked builds the keyframe under mu, then hands it to the sink after
// releasing mu. It always unlocks mu.
func (e *Engine) emitLocked(now time.Time, reason protocol.KeyframeReason) {
	if reason == "" || e.closed {
		e.mu.Unlock()
		return
	}
	kf := e.session.Keyframe(now, reason)
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	e.sink(kf)
}

func (e *Engine) scheduleStartLocked(at time.Time) {
	e.cancelStartLocked()
	gen := e.startGen
	e.startTimer = e.clock.AfterFunc(e.clock.Until(at), func() { e.onScheduledStart(gen) })
	e.logger.Info().Time("start_at", at).Msg("playback start scheduled")
}

func (e *Engine) cancelStartLocked() {
	e.startGen++
	if e.startTimer != nil {
		e.startTimer.Stop()
		e.startTimer = nil
	}
}

func (e *Engine) onScheduledStart(gen uint64) {
	e.mu.Lock()
	if gen != e.startGen || e.closed || e.session.Phase != PhasePlaying {
		e.mu.Unlock()
		return
	}
	e.startTimer = nil
	now := e.clock.Now()
	// a timer can fire a hair early relative to the network clock
	if e.session.PlayStart.After(now) {
		now = e.session.PlayStart
	}
	e.startLoopLocked()
	e.emitLocked(now, protocol.ReasonPlayStart)
}

func (e *Engine) startLoopLocked() {
	e.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	gen := e.loopGen
	ticker := e.clock.NewTicker(e.cfg.KeyframeInterval)
	go e.keyframeLoop(ctx, ticker, gen)
}

func (e *Engine) stopLoopLocked() {
	e.loopGen++
	if e.loopCancel != nil {
		e.loopCancel()
		e.loopCancel = nil
	}
}

func (e *Engine) keyframeLoop(ctx context.Context, ticker clockwork.Ticker, gen uint64) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.mu.Lock()
			if gen != e.loopGen || e.session.Phase != PhasePlaying {
				e.mu.Unlock()
				return
			}
			e.emitLocked(e.clock.Now(), protocol.ReasonPeriodic)
		}
	}
}

// Snapshot returns a copy of the session
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Position evaluates the current position
func (e *Engine) Position() timeline.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.PositionAt(e.clock.Now())
}

// Close stops the timers; further commands are rejected
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cancelStartLocked()
	e.stopLoopLocked()
}
