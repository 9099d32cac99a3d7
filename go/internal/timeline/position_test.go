package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func uniform(n int, h float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = h
	}
	return out
}

func TestFractionalLineMonotonic(t *testing.T) {
	for _, speed := range []float64{0, 1, 30, 60, 600} {
		prev := -1.0
		for ms := 0; ms <= 600_000; ms += 250 {
			got := FractionalLine(3, time.Duration(ms)*time.Millisecond, speed, 100)
			require.GreaterOrEqual(t, got, prev, "speed %v at %dms", speed, ms)
			require.GreaterOrEqual(t, got, 0.0)
			require.LessOrEqual(t, got, 99.0)
			prev = got
		}
	}
	require.Equal(t, 99.0, FractionalLine(0, time.Hour, 600, 100))
}

func TestFractionalLineEdges(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		base    float64
		elapsed time.Duration
		speed   float64
		count   int
		want    float64
	}{
		{desc: "FutureStart", base: 5, elapsed: -2 * time.Second, speed: 60, count: 10, want: 5},
		{desc: "NegativeSpeed", base: 5, elapsed: time.Second, speed: -60, count: 10, want: 5},
		{desc: "NegativeBase", base: -3, elapsed: 0, speed: 60, count: 10, want: 0},
		{desc: "EmptyScript", base: 4, elapsed: time.Second, speed: 60, count: 0, want: 0},
		{desc: "HalfLine", base: 0, elapsed: 500 * time.Millisecond, speed: 60, count: 10, want: 0.5},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.InDelta(t, tc.want, FractionalLine(tc.base, tc.elapsed, tc.speed, tc.count), 1e-9)
		})
	}
}

func TestTenSecondsAtSixtyLinesPerMinute(t *testing.T) {
	lines := uniform(100, 20)
	t0 := time.UnixMilli(1_700_000_000_000)
	pos := At(lines, 0, t0, t0.Add(10*time.Second), 60, true)
	require.InDelta(t, 10.0, pos.FractionalLine, 1e-6)
	require.Equal(t, 10, pos.LineIndex)
	require.InDelta(t, 200.0, pos.ScrollY, 1e-6)
}

func TestResolveScrollY(t *testing.T) {
	lines := []float64{10, 20, 30}
	pos := Resolve(lines, 1.5)
	require.Equal(t, 1, pos.LineIndex)
	require.InDelta(t, 20.0, pos.ScrollY, 1e-9)

	pos = Resolve(lines, 7)
	require.Equal(t, 2, pos.LineIndex)
	require.InDelta(t, 30.0, pos.ScrollY, 1e-9)

	pos = Resolve(nil, 3)
	require.Equal(t, Position{}, pos)
}

func TestAtPausedIgnoresElapsed(t *testing.T) {
	lines := uniform(50, 10)
	start := time.UnixMilli(0)
	pos := At(lines, 12.25, start, start.Add(time.Minute), 60, false)
	require.InDelta(t, 12.25, pos.FractionalLine, 1e-9)
}
