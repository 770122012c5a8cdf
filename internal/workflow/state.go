package workflow

import (
	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/selector"
)

// Phase is the workflow's single state tag.
type Phase int

const (
	Idle Phase = iota
	Selected
	Analyzing
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Selected:
		return "selected"
	case Analyzing:
		return "analyzing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the workflow state. Result is set only in
// Succeeded and ErrorDetail only in Failed. AnalysisID names the last
// recorded attempt in either of those phases.
type Snapshot struct {
	Phase       Phase
	Image       *selector.Image
	AnalysisID  string
	Result      *predictor.Prediction
	ErrorDetail string
}

// IsAnalyzing reports whether a request is in flight.
func (s Snapshot) IsAnalyzing() bool { return s.Phase == Analyzing }

// HasSelection reports whether an image is currently selected.
func (s Snapshot) HasSelection() bool { return s.Image != nil }

// CanAnalyze mirrors the enabled state of the analyze trigger.
func (s Snapshot) CanAnalyze() bool { return s.Image != nil && s.Phase != Analyzing }

// CanClear mirrors the enabled state of the clear-selection affordance.
func (s Snapshot) CanClear() bool { return s.Image != nil && s.Phase != Analyzing }
