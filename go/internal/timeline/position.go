// Package timeline holds the position arithmetic shared by the presenter's
// engine and the controller's simulator. Both sides must call these functions
// so that their results agree exactly.
package timeline

import (
	"math"
	"time"
)

// Position is a resolved scroll position
type Position struct {
	LineIndex      int     `json:"lineIndex"`
	FractionalLine float64 `json:"fractionalLine"`
	ScrollY        float64 `json:"scrollY"`
}

// Clamp limits line to [0, lineCount-1]. An empty script clamps to 0.
func Clamp(line float64, lineCount int) float64 {
	if lineCount <= 0 || math.IsNaN(line) || line < 0 {
		return 0
	}
	last := float64(lineCount - 1)
	if line > last {
		return last
	}
	return line
}

// FractionalLine extrapolates from base after elapsed time at the given speed.
// Negative elapsed (a start scheduled in the future) and negative speed do not
// move the position.
func FractionalLine(base float64, elapsed time.Duration, speedLinesPerMinute float64, lineCount int) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if speedLinesPerMinute < 0 {
		speedLinesPerMinute = 0
	}
	advanced := base + elapsed.Seconds()*speedLinesPerMinute/60
	return Clamp(advanced, lineCount)
}

// Resolve converts a fractional line into a line index and a scroll offset
// using the per-line heights.
func Resolve(lineHeights []float64, fractional float64) Position {
	fractional = Clamp(fractional, len(lineHeights))
	idx := int(math.Floor(fractional))
	pos := Position{LineIndex: idx, FractionalLine: fractional}
	if len(lineHeights) == 0 {
		return pos
	}
	var y float64
	for i := 0; i < idx; i++ {
		y += lineHeights[i]
	}
	y += (fractional - float64(idx)) * lineHeights[idx]
	pos.ScrollY = y
	return pos
}

// At combines FractionalLine and Resolve for an anchor started at start
func At(lineHeights []float64, base float64, start, now time.Time, speedLinesPerMinute float64, playing bool) Position {
	frac := Clamp(base, len(lineHeights))
	if playing {
		frac = FractionalLine(base, now.Sub(start), speedLinesPerMinute, len(lineHeights))
	}
	return Resolve(lineHeights, frac)
}
