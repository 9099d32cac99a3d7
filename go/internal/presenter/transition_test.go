package presenter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
)

// wordLines makes every whitespace-separated word one 10px line
var wordLines = script.SegmenterFunc(func(text string, _ script.Params, _ float64) []float64 {
	words := strings.Fields(text)
	heights := make([]float64, len(words))
	for i := range heights {
		heights[i] = 10
	}
	return heights
})

var testEnv = Env{Segmenter: wordLines}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

var t0 = time.UnixMilli(1_700_000_000_000)

func mustApply(t *testing.T, s Session, cmd Command, now time.Time) (Session, Effects) {
	t.Helper()
	next, fx, err := Transition(s, cmd, now, testEnv)
	require.NoError(t, err)
	return next, fx
}

func requireCode(t *testing.T, err error, code protocol.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, code, cmdErr.Code)
}

// ready returns a session with n lines loaded and params confirmed
func ready(t *testing.T, n int) Session {
	t.Helper()
	s := NewSession(script.DefaultParams(), 1280)
	s, _ = mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: words(n)}, t0)
	s, _ = mustApply(t, s, Command{Type: protocol.TypeSetParams, ScriptVersion: s.ScriptVersion()}, t0)
	require.Equal(t, PhaseReady, s.Phase)
	return s
}

func TestLoadScript(t *testing.T) {
	s := NewSession(script.DefaultParams(), 1280)
	require.Equal(t, 0, s.ScriptVersion())

	s, fx := mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: words(5)}, t0)
	require.Equal(t, PhaseLoaded, s.Phase)
	require.Equal(t, 1, s.ScriptVersion())
	require.Equal(t, 5, s.LineCount())
	require.Equal(t, protocol.ReasonLoad, fx.Keyframe)
	require.Equal(t, LoopStop, fx.Loop)

	again, fx := mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: words(5)}, t0)
	require.True(t, fx.Duplicate)
	require.Empty(t, fx.Keyframe)
	require.Equal(t, 1, again.ScriptVersion())

	s, _ = mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: words(8)}, t0)
	require.Equal(t, 2, s.ScriptVersion())
	require.Equal(t, 8, s.LineCount())
}

func TestVersionGuard(t *testing.T) {
	s := ready(t, 10)

	for _, typ := range []protocol.MessageType{
		protocol.TypeSetParams, protocol.TypePlay, protocol.TypePause,
		protocol.TypeSeekAbs, protocol.TypeSeekRel, protocol.TypeJumpTop, protocol.TypeJumpEnd,
	} {
		t.Run(string(typ), func(t *testing.T) {
			next, fx, err := Transition(s, Command{Type: typ, ScriptVersion: 7}, t0, testEnv)
			requireCode(t, err, protocol.CodeVersionMismatch)
			require.Equal(t, s, next)
			require.Equal(t, Effects{}, fx)
		})
	}

	// reload bumps the version; commands for the old one are stale
	s, _ = mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: words(3)}, t0)
	_, _, err := Transition(s, Command{Type: protocol.TypeJumpEnd, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeVersionMismatch)

	_, fx, err := Transition(s, Command{Type: protocol.TypeRequestKF, ScriptVersion: 1}, t0, testEnv)
	require.NoError(t, err)
	require.Equal(t, protocol.ReasonRequested, fx.Keyframe)
}

func TestInvalidState(t *testing.T) {
	idle := NewSession(script.DefaultParams(), 1280)
	_, _, err := Transition(idle, Command{Type: protocol.TypePlay}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)
	_, _, err = Transition(idle, Command{Type: protocol.TypeSeekAbs}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)

	loaded, _ := mustApply(t, idle, Command{Type: protocol.TypeLoadScript, Content: words(4)}, t0)
	_, _, err = Transition(loaded, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)

	s := ready(t, 4)
	_, _, err = Transition(s, Command{Type: protocol.TypePause, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)

	playing, _ := mustApply(t, s, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0)
	_, _, err = Transition(playing, Command{Type: protocol.TypeSetParams, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)
	_, _, err = Transition(playing, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidState)
}

func TestPlaybackAdvances(t *testing.T) {
	s := ready(t, 100)
	s, fx := mustApply(t, s, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0)
	require.Equal(t, protocol.ReasonPlayStart, fx.Keyframe)
	require.Equal(t, LoopStart, fx.Loop)
	require.True(t, s.Moving(t0))

	require.InDelta(t, 10.0, s.FractionalAt(t0.Add(10*time.Second)), 1e-9)
	require.InDelta(t, 99.0, s.FractionalAt(t0.Add(time.Hour)), 1e-9)

	kf := s.Keyframe(t0.Add(10*time.Second), protocol.ReasonPeriodic)
	require.Equal(t, 10, kf.LineIndex)
	require.True(t, kf.Playing)
	require.Equal(t, 100, kf.LineCount)
	require.Equal(t, t0.Add(10*time.Second).UnixMilli(), kf.AnchorTime)

	paused, fx := mustApply(t, s, Command{Type: protocol.TypePause, ScriptVersion: 1}, t0.Add(15*time.Second))
	require.Equal(t, PhasePaused, paused.Phase)
	require.True(t, fx.CancelStart)
	require.InDelta(t, 15.0, paused.Base, 1e-9)
	require.InDelta(t, 15.0, paused.FractionalAt(t0.Add(time.Hour)), 1e-9)

	resumed, _ := mustApply(t, paused, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0.Add(20*time.Second))
	require.InDelta(t, 17.0, resumed.FractionalAt(t0.Add(22*time.Second)), 1e-9)
}

func TestSeek(t *testing.T) {
	s := ready(t, 100)

	once, fx := mustApply(t, s, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 40}, t0)
	require.Equal(t, protocol.ReasonSeekAbs, fx.Keyframe)
	twice, _ := mustApply(t, once, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 40}, t0.Add(time.Second))
	require.Equal(t, once, twice)
	require.InDelta(t, 40.0, twice.Base, 1e-9)

	clamped, _ := mustApply(t, s, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 500}, t0)
	require.InDelta(t, 99.0, clamped.Base, 1e-9)
	clamped, _ = mustApply(t, clamped, Command{Type: protocol.TypeSeekRel, ScriptVersion: 1, Delta: -1000}, t0)
	require.InDelta(t, 0.0, clamped.Base, 1e-9)

	end, fx := mustApply(t, s, Command{Type: protocol.TypeJumpEnd, ScriptVersion: 1}, t0)
	require.Equal(t, protocol.ReasonJumpEnd, fx.Keyframe)
	require.InDelta(t, 99.0, end.Base, 1e-9)
	top, _ := mustApply(t, end, Command{Type: protocol.TypeJumpTop, ScriptVersion: 1}, t0)
	require.InDelta(t, 0.0, top.Base, 1e-9)
}

func TestSeekWhilePlayingRestartsMotion(t *testing.T) {
	s := ready(t, 100)
	s, _ = mustApply(t, s, Command{Type: protocol.TypePlay, ScriptVersion: 1}, t0)

	at := t0.Add(5 * time.Second)
	s, fx := mustApply(t, s, Command{Type: protocol.TypeSeekRel, ScriptVersion: 1, Delta: 2.5}, at)
	require.Equal(t, LoopKeep, fx.Loop)
	require.Equal(t, PhasePlaying, s.Phase)
	require.Equal(t, at, s.PlayStart)
	require.InDelta(t, 7.5, s.Base, 1e-9)
	require.InDelta(t, 8.5, s.FractionalAt(at.Add(time.Second)), 1e-9)
}

func TestSeekEmptyScript(t *testing.T) {
	s := NewSession(script.DefaultParams(), 1280)
	s, _ = mustApply(t, s, Command{Type: protocol.TypeLoadScript, Content: ""}, t0)
	require.Equal(t, 0, s.LineCount())

	_, _, err := Transition(s, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 3}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidLineIndex)
	_, _, err = Transition(s, Command{Type: protocol.TypeJumpEnd, ScriptVersion: 1}, t0, testEnv)
	requireCode(t, err, protocol.CodeInvalidLineIndex)
}

func TestScheduledPlay(t *testing.T) {
	s := ready(t, 100)
	start := t0.Add(2 * time.Second)

	s, fx := mustApply(t, s, Command{Type: protocol.TypePlay, ScriptVersion: 1, StartAt: start}, t0)
	require.Equal(t, start, fx.ScheduleStart)
	require.Empty(t, fx.Keyframe)
	require.Equal(t, LoopKeep, fx.Loop)
	require.True(t, s.StartPending(t0))
	require.False(t, s.Moving(t0))
	require.False(t, s.Keyframe(t0, protocol.ReasonRequested).Playing)
	require.InDelta(t, 0.0, s.FractionalAt(t0.Add(time.Second)), 1e-9)
	require.InDelta(t, 1.0, s.FractionalAt(start.Add(time.Second)), 1e-9)

	// a seek before the start keeps the scheduled instant
	seeked, _ := mustApply(t, s, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 10}, t0.Add(time.Second))
	require.Equal(t, start, seeked.PlayStart)
	require.InDelta(t, 11.0, seeked.FractionalAt(start.Add(time.Second)), 1e-9)

	// a PLAY whose start already passed starts now
	late, fx := mustApply(t, ready(t, 100), Command{Type: protocol.TypePlay, ScriptVersion: 1, StartAt: t0.Add(-time.Second)}, t0)
	require.Equal(t, t0, late.PlayStart)
	require.Equal(t, protocol.ReasonPlayStart, fx.Keyframe)
}

func TestSetParamsResegments(t *testing.T) {
	s := ready(t, 10)
	s, _ = mustApply(t, s, Command{Type: protocol.TypeSeekAbs, ScriptVersion: 1, Line: 6}, t0)

	speed := 90.0
	font := 64.0
	next, fx := mustApply(t, s, Command{
		Type:          protocol.TypeSetParams,
		ScriptVersion: 1,
		Patch:         script.ParamsPatch{SpeedLinesPerMinute: &speed, FontSize: &font},
	}, t0)
	require.Equal(t, protocol.ReasonParamChange, fx.Keyframe)
	require.Equal(t, 90.0, next.Params.SpeedLinesPerMinute)
	require.Equal(t, 64.0, next.Params.FontSize)
	require.Equal(t, 1, next.ScriptVersion(), "param changes keep the version")
	require.NotSame(t, s.Script, next.Script)
	require.InDelta(t, 6.0, next.Base, 1e-9)

	kf := next.Keyframe(t0, protocol.ReasonParamChange)
	require.Equal(t, 64.0*1.4, kf.LineHeight)
	require.Equal(t, 90.0, kf.Speed)
}
