package presenter

import (
	"time"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
	"github.com/mcdev12/cuesync/go/internal/timeline"
)

// LoopAction tells the engine what to do with the periodic keyframe loop
type LoopAction int

const (
	LoopKeep LoopAction = iota
	LoopStart
	LoopStop
)

// Effects are the side effects a transition asks the engine to perform
type Effects struct {
	// Keyframe is the reason for an immediate keyframe, empty for none
	Keyframe protocol.KeyframeReason
	// ScheduleStart arms the start timer for a PLAY in the future
	ScheduleStart time.Time
	// CancelStart disarms a pending start timer
	CancelStart bool
	Loop        LoopAction
	// Duplicate marks a LOAD_SCRIPT whose content is already loaded
	Duplicate bool
}

// Env carries the collaborators a transition needs
type Env struct {
	Segmenter script.Segmenter
}

// Transition applies cmd to s at network time now. It never mutates s and
// performs no I/O, so it can be driven entirely from tests.
func Transition(s Session, cmd Command, now time.Time, env Env) (Session, Effects, error) {
	if protocol.IsVersioned(cmd.Type) && cmd.ScriptVersion != s.ScriptVersion() {
		return s, Effects{}, reject(protocol.CodeVersionMismatch,
			"command targets version %d, current is %d", cmd.ScriptVersion, s.ScriptVersion())
	}

	switch cmd.Type {
	case protocol.TypeLoadScript:
		return load(s, cmd, env)
	case protocol.TypeSetParams:
		return setParams(s, cmd, env)
	case protocol.TypePlay:
		return play(s, cmd, now)
	case protocol.TypePause:
		return pause(s, now)
	case protocol.TypeSeekAbs:
		return seek(s, now, float64(cmd.Line), protocol.ReasonSeekAbs)
	case protocol.TypeSeekRel:
		if s.Script == nil {
			return s, Effects{}, reject(protocol.CodeInvalidState, "no script loaded")
		}
		return seek(s, now, s.FractionalAt(now)+cmd.Delta, protocol.ReasonSeekRel)
	case protocol.TypeJumpTop:
		return seek(s, now, 0, protocol.ReasonJumpTop)
	case protocol.TypeJumpEnd:
		return seek(s, now, float64(s.LineCount()-1), protocol.ReasonJumpEnd)
	case protocol.TypeRequestKF:
		return s, Effects{Keyframe: protocol.ReasonRequested}, nil
	}
	return s, Effects{}, reject(protocol.CodeInvalidState, "unsupported command %s", cmd.Type)
}

func load(s Session, cmd Command, env Env) (Session, Effects, error) {
	if s.Script != nil && script.Fingerprint(cmd.Content) == s.Script.TextHash {
		return s, Effects{Duplicate: true}, nil
	}
	next := s
	next.Script = script.New(s.ScriptVersion()+1, cmd.Content, s.Params, s.ViewportWidth, env.Segmenter)
	next.Phase = PhaseLoaded
	next.Base = 0
	next.PlayStart = time.Time{}
	return next, Effects{Keyframe: protocol.ReasonLoad, CancelStart: true, Loop: LoopStop}, nil
}

func setParams(s Session, cmd Command, env Env) (Session, Effects, error) {
	switch s.Phase {
	case PhaseLoaded, PhaseReady, PhasePaused:
	default:
		return s, Effects{}, reject(protocol.CodeInvalidState, "cannot set params while %s", s.Phase)
	}
	next := s
	params, fontChanged := s.Params.Apply(cmd.Patch)
	next.Params = params
	if fontChanged {
		next.Script = s.Script.Resegment(params, s.ViewportWidth, env.Segmenter)
		next.Base = timeline.Clamp(s.Base, next.LineCount())
	}
	next.Phase = PhaseReady
	return next, Effects{Keyframe: protocol.ReasonParamChange}, nil
}

func play(s Session, cmd Command, now time.Time) (Session, Effects, error) {
	switch s.Phase {
	case PhaseReady, PhasePaused:
	default:
		return s, Effects{}, reject(protocol.CodeInvalidState, "cannot play while %s", s.Phase)
	}
	next := s
	next.Phase = PhasePlaying
	next.Base = timeline.Clamp(s.Base, s.LineCount())
	if cmd.StartAt.After(now) {
		next.PlayStart = cmd.StartAt
		return next, Effects{ScheduleStart: cmd.StartAt}, nil
	}
	next.PlayStart = now
	return next, Effects{Keyframe: protocol.ReasonPlayStart, Loop: LoopStart}, nil
}

func pause(s Session, now time.Time) (Session, Effects, error) {
	if s.Phase != PhasePlaying {
		return s, Effects{}, reject(protocol.CodeInvalidState, "cannot pause while %s", s.Phase)
	}
	next := s
	next.Base = s.FractionalAt(now)
	next.Phase = PhasePaused
	next.PlayStart = time.Time{}
	return next, Effects{Keyframe: protocol.ReasonPause, CancelStart: true, Loop: LoopStop}, nil
}

// seek moves the base to target. While playing the motion restarts from now,
// unless a scheduled start has not fired yet, in which case it starts from
// the new base at the scheduled instant.
func seek(s Session, now time.Time, target float64, reason protocol.KeyframeReason) (Session, Effects, error) {
	if s.Script == nil {
		return s, Effects{}, reject(protocol.CodeInvalidState, "no script loaded")
	}
	if s.LineCount() == 0 {
		return s, Effects{}, reject(protocol.CodeInvalidLineIndex, "script has no lines")
	}
	next := s
	next.Base = timeline.Clamp(target, s.LineCount())
	if s.Phase == PhasePlaying && !s.StartPending(now) {
		next.PlayStart = now
	}
	return next, Effects{Keyframe: reason}, nil
}
