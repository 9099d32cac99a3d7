package script

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// State is one loaded script. It is never mutated; a reload or a font
// change produces a new State.
type State struct {
	Version   int
	TextHash  string
	Content   string
	LineTable []float64
}

// New segments content and builds the state for the given version
func New(version int, content string, params Params, viewportWidth float64, seg Segmenter) *State {
	return &State{
		Version:   version,
		TextHash:  Fingerprint(content),
		Content:   content,
		LineTable: seg.Segment(content, params, viewportWidth),
	}
}

// Resegment returns a copy of s with the line table rebuilt for new params.
// Version and hash are unchanged because the content is the same.
func (s *State) Resegment(params Params, viewportWidth float64, seg Segmenter) *State {
	return &State{
		Version:   s.Version,
		TextHash:  s.TextHash,
		Content:   s.Content,
		LineTable: seg.Segment(s.Content, params, viewportWidth),
	}
}

// LineCount returns the number of visual lines
func (s *State) LineCount() int {
	if s == nil {
		return 0
	}
	return len(s.LineTable)
}

// Fingerprint is a cheap content hash used to spot duplicate loads
func Fingerprint(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}
