package presenter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuesync/go/internal/protocol"
	"github.com/mcdev12/cuesync/go/internal/script"
)

const testInterval = 1200 * time.Millisecond

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock, chan protocol.KeyframePayload) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	kfs := make(chan protocol.KeyframePayload, 64)
	e := NewEngine(clock, EngineConfig{
		KeyframeInterval: testInterval,
		ViewportWidth:    1280,
		Params:           script.DefaultParams(),
		Segmenter:        wordLines,
	}, func(kf protocol.KeyframePayload) { kfs <- kf })
	t.Cleanup(e.Close)
	return e, clock, kfs
}

func nextKeyframe(t *testing.T, kfs <-chan protocol.KeyframePayload) protocol.KeyframePayload {
	t.Helper()
	select {
	case kf := <-kfs:
		return kf
	case <-time.After(2 * time.Second):
		t.Fatal("no keyframe")
		return protocol.KeyframePayload{}
	}
}

func requireNoKeyframe(t *testing.T, kfs <-chan protocol.KeyframePayload) {
	t.Helper()
	select {
	case kf := <-kfs:
		t.Fatalf("unexpected %s keyframe", kf.Reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
}

func loadReady(t *testing.T, e *Engine, kfs <-chan protocol.KeyframePayload, lines int) {
	t.Helper()
	res, err := e.Apply(Command{Type: protocol.TypeLoadScript, Content: words(lines)})
	require.NoError(t, err)
	require.Equal(t, 1, res.ScriptVersion)
	require.Equal(t, protocol.ReasonLoad, nextKeyframe(t, kfs).Reason)

	_, err = e.Apply(Command{Type: protocol.TypeSetParams, ScriptVersion: 1})
	require.NoError(t, err)
	require.Equal(t, protocol.ReasonParamChange, nextKeyframe(t, kfs).Reason)
}

func TestEnginePeriodicKeyframes(t *testing.T) {
	e, clock, kfs := newTestEngine(t)
	loadReady(t, e, kfs, 100)

	_, err := e.Apply(Command{Type: protocol.TypePlay, ScriptVersion: 1})
	require.NoError(t, err)
	kf := nextKeyframe(t, kfs)
	require.Equal(t, protocol.ReasonPlayStart, kf.Reason)
	require.True(t, kf.Playing)

	blockUntil(t, clock, 1)
	clock.Advance(testInterval)
	kf = nextKeyframe(t, kfs)
	require.Equal(t, protocol.ReasonPeriodic, kf.Reason)
	require.InDelta(t, 1.2, kf.FractionalLine, 1e-9)
	require.Equal(t, t0.Add(testInterval).UnixMilli(), kf.AnchorTime)

	clock.Advance(testInterval)
	require.Equal(t, protocol.ReasonPeriodic, nextKeyframe(t, kfs).Reason)

	_, err = e.Apply(Command{Type: protocol.TypePause, ScriptVersion: 1})
	require.NoError(t, err)
	kf = nextKeyframe(t, kfs)
	require.Equal(t, protocol.ReasonPause, kf.Reason)
	require.False(t, kf.Playing)

	clock.Advance(5 * testInterval)
	requireNoKeyframe(t, kfs)
	require.InDelta(t, 2.4, e.Position().FractionalLine, 1e-9)
}

func TestEngineScheduledStart(t *testing.T) {
	e, clock, kfs := newTestEngine(t)
	loadReady(t, e, kfs, 100)

	start := t0.Add(2 * time.Second)
	_, err := e.Apply(Command{Type: protocol.TypePlay, ScriptVersion: 1, StartAt: start})
	require.NoError(t, err)
	requireNoKeyframe(t, kfs)
	require.Equal(t, PhasePlaying, e.Snapshot().Phase)

	blockUntil(t, clock, 1)
	clock.Advance(time.Second)
	requireNoKeyframe(t, kfs)
	require.InDelta(t, 0.0, e.Position().FractionalLine, 1e-9)

	clock.Advance(time.Second)
	kf := nextKeyframe(t, kfs)
	require.Equal(t, protocol.ReasonPlayStart, kf.Reason)
	require.True(t, kf.Playing)
	require.Equal(t, start.UnixMilli(), kf.AnchorTime)

	blockUntil(t, clock, 1)
	clock.Advance(testInterval)
	require.Equal(t, protocol.ReasonPeriodic, nextKeyframe(t, kfs).Reason)
}

func TestEngineScheduledStartCanceledByPause(t *testing.T) {
	e, clock, kfs := newTestEngine(t)
	loadReady(t, e, kfs, 100)

	_, err := e.Apply(Command{Type: protocol.TypePlay, ScriptVersion: 1, StartAt: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	blockUntil(t, clock, 1)

	clock.Advance(time.Second)
	_, err = e.Apply(Command{Type: protocol.TypePause, ScriptVersion: 1})
	require.NoError(t, err)
	require.Equal(t, protocol.ReasonPause, nextKeyframe(t, kfs).Reason)

	clock.Advance(5 * time.Second)
	requireNoKeyframe(t, kfs)
	snap := e.Snapshot()
	require.Equal(t, PhasePaused, snap.Phase)
	require.InDelta(t, 0.0, snap.Base, 1e-9)
}

func TestEngineRejectsAndKeepsState(t *testing.T) {
	e, _, kfs := newTestEngine(t)
	loadReady(t, e, kfs, 10)

	res, err := e.Apply(Command{Type: protocol.TypeSeekAbs, ScriptVersion: 3, Line: 4})
	requireCode(t, err, protocol.CodeVersionMismatch)
	require.Equal(t, 1, res.ScriptVersion)
	requireNoKeyframe(t, kfs)
	require.InDelta(t, 0.0, e.Position().FractionalLine, 1e-9)

	res, err = e.Apply(Command{Type: protocol.TypeLoadScript, Content: words(10)})
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, 1, res.ScriptVersion)
	requireNoKeyframe(t, kfs)

	e.RequestKeyframe()
	kf := nextKeyframe(t, kfs)
	require.Equal(t, protocol.ReasonRequested, kf.Reason)
	require.Equal(t, 10, kf.LineCount)
}

func TestEngineClose(t *testing.T) {
	e, _, kfs := newTestEngine(t)
	loadReady(t, e, kfs, 10)
	e.Close()

	_, err := e.Apply(Command{Type: protocol.TypeJumpEnd, ScriptVersion: 1})
	requireCode(t, err, protocol.CodeInvalidState)
	e.RequestKeyframe()
	requireNoKeyframe(t, kfs)
}
