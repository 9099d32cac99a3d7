// Package controller drives a presenter over the relay. The Simulator keeps a
// local "ghost" of the presenter's position by extrapolating from the last
// keyframe; the Controller issues commands through the reliable layer.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuesync/go/internal/clocksync"
	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/timeline"
)

// SimPhase mirrors the presenter's playback phase as seen through keyframes
type SimPhase string

const (
	SimIdle    SimPhase = "IDLE_SIM"
	SimPlaying SimPhase = "PLAYING_SIM"
	SimPaused  SimPhase = "PAUSED_SIM"
)

// Quality classifies keyframe freshness. It is informational only.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// SimulatorConfig configures staleness detection
type SimulatorConfig struct {
	CheckInterval  time.Duration
	MaxKeyframeAge time.Duration
	GoodAge        time.Duration
}

// DefaultSimulatorConfig checks every 2s for keyframes older than 3s
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		CheckInterval:  2 * time.Second,
		MaxKeyframeAge: 3 * time.Second,
		GoodAge:        1500 * time.Millisecond,
	}
}

// Simulator extrapolates the presenter's position between keyframes
type Simulator struct {
	clock   *clocksync.NetworkClock
	cfg     SimulatorConfig
	request func()
	logger  zerolog.Logger

	mu         sync.Mutex
	phase      SimPhase
	kf         protocol.KeyframePayload
	heights    []float64
	anchor     time.Time // local time base
	receivedAt time.Time // local time base
	received   bool
	requested  bool
	requests   int
	loopCancel context.CancelFunc
	loopGen    uint64
}

// NewSimulator creates an idle simulator. request is called (outside any
// lock) whenever a fresh keyframe should be requested.
func NewSimulator(clock *clocksync.NetworkClock, cfg SimulatorConfig, request func()) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.MaxKeyframeAge <= 0 {
		cfg.MaxKeyframeAge = def.MaxKeyframeAge
	}
	if cfg.GoodAge <= 0 {
		cfg.GoodAge = def.GoodAge
	}
	if request == nil {
		request = func() {}
	}
	return &Simulator{
		clock:   clock,
		cfg:     cfg,
		request: request,
		logger:  log.With().Str("component", "simulator").Logger(),
		phase:   SimIdle,
	}
}

// HandleKeyframe replaces the anchor with kf. The most recently received
// keyframe always wins, whatever its script version: a restarted presenter
// counts versions from 1 again.
func (s *Simulator) HandleKeyframe(kf protocol.KeyframePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kf = kf
	s.anchor = s.clock.ToLocal(protocol.MillisToTime(kf.AnchorTime))
	s.receivedAt = s.clock.Local().Now()
	s.received = true
	s.requested = false
	if len(s.heights) != kf.LineCount || (kf.LineCount > 0 && s.heights[0] != kf.LineHeight) {
		s.heights = uniformHeights(kf.LineCount, kf.LineHeight)
	}

	next := SimPaused
	switch {
	case kf.Playing:
		next = SimPlaying
	case kf.ScriptVersion == 0:
		next = SimIdle
	}
	s.setPhaseLocked(next)
}

func uniformHeights(n int, h float64) []float64 {
	heights := make([]float64, n)
	for i := range heights {
		heights[i] = h
	}
	return heights
}

func (s *Simulator) setPhaseLocked(next SimPhase) {
	if next != s.phase {
		s.logger.Debug().Str("from", string(s.phase)).Str("to", string(next)).Msg("simulator phase changed")
		s.phase = next
	}
	switch {
	case next == SimPlaying && s.loopCancel == nil:
		s.startLoopLocked()
	case next != SimPlaying:
		s.stopLoopLocked()
	}
}

func (s *Simulator) startLoopLocked() {
	s.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	ticker := s.clock.Local().NewTicker(s.cfg.CheckInterval)
	go s.stalenessLoop(ctx, ticker, s.loopGen)
}

func (s *Simulator) stopLoopLocked() {
	s.loopGen++
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
}

func (s *Simulator) stalenessLoop(ctx context.Context, ticker clockwork.Ticker, gen uint64) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.check(gen)
		}
	}
}

// check requests a keyframe once per staleness crossing
func (s *Simulator) check(gen uint64) {
	s.mu.Lock()
	if gen != s.loopGen || s.phase != SimPlaying || s.requested {
		s.mu.Unlock()
		return
	}
	age := s.clock.Local().Since(s.receivedAt)
	if age <= s.cfg.MaxKeyframeAge {
		s.mu.Unlock()
		return
	}
	s.requested = true
	s.requests++
	s.mu.Unlock()

	s.logger.Info().Dur("age", age).Msg("keyframe stale, requesting a fresh one")
	s.request()
}

// Phase returns the current simulated phase
func (s *Simulator) Phase() SimPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Position extrapolates the ghost position to now
func (s *Simulator) Position() timeline.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.At(s.heights, s.kf.FractionalLine, s.anchor, s.clock.Local().Now(), s.kf.Speed, s.phase == SimPlaying)
}

// Keyframe returns the last applied keyframe
func (s *Simulator) Keyframe() (protocol.KeyframePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kf, s.received
}

// KeyframeAge is the time since the last keyframe was received
func (s *Simulator) KeyframeAge() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.received {
		return 0, false
	}
	return s.clock.Local().Since(s.receivedAt), true
}

// Quality grades keyframe freshness. Outside PLAYING_SIM the presenter sends
// no periodic keyframes, so any received keyframe counts as good.
func (s *Simulator) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.received {
		return QualityPoor
	}
	if s.phase != SimPlaying {
		return QualityGood
	}
	age := s.clock.Local().Since(s.receivedAt)
	switch {
	case age <= s.cfg.GoodAge:
		return QualityGood
	case age <= s.cfg.MaxKeyframeAge:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Requests is the number of staleness-triggered keyframe requests so far
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Stop cancels the staleness loop, for instance on disconnect. The ghost keeps
// extrapolating from the last anchor and the next playing keyframe restarts
// the loop.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLoopLocked()
}
