package script

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Segmenter splits text into visual lines and returns the height of each.
// Implementations must be deterministic: presenter and controllers evaluate
// the same inputs and must agree on the result.
type Segmenter interface {
	Segment(text string, params Params, viewportWidth float64) []float64
}

// SegmenterFunc adapts a plain function to Segmenter
type SegmenterFunc func(text string, params Params, viewportWidth float64) []float64

func (f SegmenterFunc) Segment(text string, params Params, viewportWidth float64) []float64 {
	return f(text, params, viewportWidth)
}

// DefaultCharWidthRatio approximates the advance of a monospace glyph relative to font size
const DefaultCharWidthRatio = 0.6

// MonospaceSegmenter wraps words greedily assuming every glyph has the same advance
type MonospaceSegmenter struct {
	CharWidthRatio float64
}

// Columns is the number of glyphs that fit on one visual line
func (m MonospaceSegmenter) Columns(params Params, viewportWidth float64) int {
	ratio := m.CharWidthRatio
	if ratio <= 0 {
		ratio = DefaultCharWidthRatio
	}
	usable := viewportWidth - 2*params.Margins
	if params.FontSize <= 0 || usable <= 0 {
		return 1
	}
	cols := int(math.Floor(usable / (params.FontSize * ratio)))
	if cols < 1 {
		return 1
	}
	return cols
}

func (m MonospaceSegmenter) Segment(text string, params Params, viewportWidth float64) []float64 {
	if text == "" {
		return nil
	}
	height := params.LineHeight()
	lines := Wrap(text, m.Columns(params, viewportWidth))
	heights := make([]float64, len(lines))
	for i := range heights {
		heights[i] = height
	}
	return heights
}

// Wrap breaks text into lines of at most cols runes. Words longer than a
// line are split; blank source lines are preserved.
func Wrap(text string, cols int) []string {
	if cols < 1 {
		cols = 1
	}
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		var cur strings.Builder
		curLen := 0
		flush := func() {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
		for _, w := range words {
			for utf8.RuneCountInString(w) > cols {
				if curLen > 0 {
					flush()
				}
				r := []rune(w)
				out = append(out, string(r[:cols]))
				w = string(r[cols:])
			}
			wl := utf8.RuneCountInString(w)
			if wl == 0 {
				continue
			}
			switch {
			case curLen == 0:
				cur.WriteString(w)
				curLen = wl
			case curLen+1+wl <= cols:
				cur.WriteByte(' ')
				cur.WriteString(w)
				curLen += 1 + wl
			default:
				flush()
				cur.WriteString(w)
				curLen = wl
			}
		}
		if curLen > 0 {
			flush()
		}
	}
	return out
}
