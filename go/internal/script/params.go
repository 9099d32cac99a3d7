package script

// Params holds the playback parameters shared by presenter and controllers
type Params struct {
	SpeedLinesPerMinute  float64 `json:"speedLinesPerMinute"`
	FontSize             float64 `json:"fontSize"`
	LineHeightMultiplier float64 `json:"lineHeightMultiplier"`
	MirrorHorizontal     bool    `json:"mirrorHorizontal"`
	MirrorVertical       bool    `json:"mirrorVertical"`
	Margins              float64 `json:"margins"`
}

// ParamsPatch is a partial update; nil fields are left unchanged
type ParamsPatch struct {
	SpeedLinesPerMinute  *float64 `json:"speedLinesPerMinute,omitempty"`
	FontSize             *float64 `json:"fontSize,omitempty"`
	LineHeightMultiplier *float64 `json:"lineHeightMultiplier,omitempty"`
	MirrorHorizontal     *bool    `json:"mirrorHorizontal,omitempty"`
	MirrorVertical       *bool    `json:"mirrorVertical,omitempty"`
	Margins              *float64 `json:"margins,omitempty"`
}

// DefaultParams returns the parameters a fresh presenter starts with
func DefaultParams() Params {
	return Params{
		SpeedLinesPerMinute:  60,
		FontSize:             48,
		LineHeightMultiplier: 1.4,
		Margins:              40,
	}
}

// LineHeight is the height of a single visual line
func (p Params) LineHeight() float64 {
	return p.FontSize * p.LineHeightMultiplier
}

// Apply returns p updated by patch and whether a field that changes line
// segmentation (font size, line height, margins) actually changed.
func (p Params) Apply(patch ParamsPatch) (Params, bool) {
	next := p
	if patch.SpeedLinesPerMinute != nil {
		next.SpeedLinesPerMinute = *patch.SpeedLinesPerMinute
		if next.SpeedLinesPerMinute < 0 {
			next.SpeedLinesPerMinute = 0
		}
	}
	if patch.FontSize != nil && *patch.FontSize > 0 {
		next.FontSize = *patch.FontSize
	}
	if patch.LineHeightMultiplier != nil && *patch.LineHeightMultiplier > 0 {
		next.LineHeightMultiplier = *patch.LineHeightMultiplier
	}
	if patch.MirrorHorizontal != nil {
		next.MirrorHorizontal = *patch.MirrorHorizontal
	}
	if patch.MirrorVertical != nil {
		next.MirrorVertical = *patch.MirrorVertical
	}
	if patch.Margins != nil && *patch.Margins >= 0 {
		next.Margins = *patch.Margins
	}
	return next, next.fontKey() != p.fontKey()
}

type fontKey struct {
	size, multiplier, margins float64
}

func (p Params) fontKey() fontKey {
	return fontKey{p.FontSize, p.LineHeightMultiplier, p.Margins}
}
