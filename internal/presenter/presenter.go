// Package presenter turns a prediction into a displayable verdict.
package presenter

import (
	"math"

	"github.com/example/neuroscan/internal/predictor"
)

// Tone is the colour branch of a verdict.
type Tone string

const (
	ToneTumor Tone = "tumor"
	ToneClear Tone = "clear"
)

const (
	tumorAdvisory = "The analysis indicates the presence of a tumor with high confidence. Please consult with a healthcare professional for proper diagnosis."
	clearAdvisory = "No tumor detected in the provided image. Regular check-ups are still recommended."
)

// Verdict is everything needed to draw a result card.
type Verdict struct {
	Prediction string `json:"prediction"`
	Percent    int    `json:"percent"`
	Tone       Tone   `json:"tone"`
	Color      string `json:"color"`
	Advisory   string `json:"advisory"`
}

// IsTumor reports whether the verdict uses the tumor branch.
func (v *Verdict) IsTumor() bool { return v != nil && v.Tone == ToneTumor }

// Present returns nil for a nil prediction.
func Present(p *predictor.Prediction) *Verdict {
	if p == nil {
		return nil
	}
	v := &Verdict{
		Prediction: p.Prediction,
		Percent:    Percent(p.Confidence),
		Tone:       ToneClear,
		Color:      "green",
		Advisory:   clearAdvisory,
	}
	if p.IsTumor() {
		v.Tone = ToneTumor
		v.Color = "red"
		v.Advisory = tumorAdvisory
	}
	return v
}

// Percent rounds a [0,1] confidence to a whole percentage, halves upward.
func Percent(confidence float64) int {
	return int(math.Floor(confidence*100 + 0.5))
}
