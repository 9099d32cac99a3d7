package presenter

import (
	"time"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
	"github.com/mcdev12/cuesync/go/internal/timeline"
)

// Phase of the playback state machine
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseLoaded  Phase = "LOADED"
	PhaseReady   Phase = "READY"
	PhasePlaying Phase = "PLAYING"
	PhasePaused  Phase = "PAUSED"
)

// Session is the complete authoritative playback state. It is a value:
// Transition returns a new Session instead of mutating the old one.
type Session struct {
	Phase  Phase
	Script *script.State
	Params script.Params

	// Base is the fractional line at PlayStart while playing, or the frozen
	// position otherwise.
	Base float64
	// PlayStart is the network instant playback (re)started. It may lie in
	// the future while a scheduled start is pending.
	PlayStart time.Time

	ViewportWidth float64
}

// NewSession returns an idle session
func NewSession(params script.Params, viewportWidth float64) Session {
	return Session{Phase: PhaseIdle, Params: params, ViewportWidth: viewportWidth}
}

// ScriptVersion is the current script version, 0 before the first load
func (s Session) ScriptVersion() int {
	if s.Script == nil {
		return 0
	}
	return s.Script.Version
}

// LineCount is the number of visual lines of the current script
func (s Session) LineCount() int { return s.Script.LineCount() }

func (s Session) lineTable() []float64 {
	if s.Script == nil {
		return nil
	}
	return s.Script.LineTable
}

// StartPending reports whether a PLAY was accepted but its start instant has
// not been reached yet.
func (s Session) StartPending(now time.Time) bool {
	return s.Phase == PhasePlaying && s.PlayStart.After(now)
}

// Moving reports whether the position advances at now
func (s Session) Moving(now time.Time) bool {
	return s.Phase == PhasePlaying && !s.PlayStart.After(now)
}

// FractionalAt evaluates the position function at now
func (s Session) FractionalAt(now time.Time) float64 {
	if s.Phase != PhasePlaying {
		return timeline.Clamp(s.Base, s.LineCount())
	}
	return timeline.FractionalLine(s.Base, now.Sub(s.PlayStart), s.Params.SpeedLinesPerMinute, s.LineCount())
}

// PositionAt resolves the position at now against the line table
func (s Session) PositionAt(now time.Time) timeline.Position {
	return timeline.Resolve(s.lineTable(), s.FractionalAt(now))
}

// Keyframe snapshots the session at now. The anchor is rounded up to the
// millisecond carried on the wire so receivers extrapolate from the exact
// instant the position was evaluated at, never from before PlayStart.
func (s Session) Keyframe(now time.Time, reason protocol.KeyframeReason) protocol.KeyframePayload {
	anchor := time.UnixMilli(now.UnixMilli())
	if anchor.Before(now) {
		anchor = anchor.Add(time.Millisecond)
	}
	pos := s.PositionAt(anchor)
	kf := protocol.KeyframePayload{
		LineIndex:      pos.LineIndex,
		FractionalLine: pos.FractionalLine,
		AnchorTime:     anchor.UnixMilli(),
		ScriptVersion:  s.ScriptVersion(),
		Speed:          s.Params.SpeedLinesPerMinute,
		LineHeight:     s.Params.LineHeight(),
		FontSize:       s.Params.FontSize,
		Mirror: protocol.Mirror{
			Horizontal: s.Params.MirrorHorizontal,
			Vertical:   s.Params.MirrorVertical,
		},
		Params:    s.Params,
		LineCount: s.LineCount(),
		Playing:   s.Moving(anchor),
		Reason:    reason,
	}
	if s.Script != nil {
		kf.TextHash = s.Script.TextHash
	}
	return kf
}
