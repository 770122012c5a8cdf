// Package workflow owns the select-analyze-display state of one user.
package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/selector"
)

var (
	// ErrNoSelection is returned by Analyze when no image is selected.
	ErrNoSelection = errors.New("no image selected")
	// ErrAnalysisInFlight is returned when a change is attempted while a request is running.
	ErrAnalysisInFlight = errors.New("analysis already in progress")

	errAborted = errors.New("analysis aborted")
)

// Analyzer runs inference for one selected image. analysisID names the
// recorded attempt and is empty when nothing was recorded.
type Analyzer interface {
	Analyze(ctx context.Context, img *selector.Image) (analysisID string, result *predictor.Prediction, err error)
}

// TransitionFunc observes phase changes.
type TransitionFunc func(from, to Phase)

// Workflow is safe for concurrent use. At most one Analyze runs at a time.
type Workflow struct {
	analyzer Analyzer
	notifier Notifier
	logger   *zap.Logger

	inFlight atomic.Bool

	mu        sync.Mutex
	state     Snapshot
	observers []TransitionFunc
}

// New creates an idle workflow. A nil notifier drops notifications.
func New(analyzer Analyzer, notifier Notifier, logger *zap.Logger) *Workflow {
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	return &Workflow{
		analyzer: analyzer,
		notifier: notifier,
		logger:   logger.Named("workflow"),
	}
}

// OnTransition registers fn to be called after every phase change.
func (w *Workflow) OnTransition(fn TransitionFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Select replaces the current image and drops any previous outcome.
func (w *Workflow) Select(img *selector.Image) error {
	if img == nil {
		return ErrNoSelection
	}
	w.mu.Lock()
	if w.inFlight.Load() {
		w.mu.Unlock()
		return ErrAnalysisInFlight
	}
	from := w.state.Phase
	w.state = Snapshot{Phase: Selected, Image: img}
	observers := w.observers
	w.mu.Unlock()

	w.logger.Debug("image selected", zap.String("image_id", img.ID), zap.String("filename", img.Filename))
	emit(observers, from, Selected)
	return nil
}

// Clear removes the selection. It is refused while a request is in flight.
func (w *Workflow) Clear() error {
	w.mu.Lock()
	if w.inFlight.Load() {
		w.mu.Unlock()
		return ErrAnalysisInFlight
	}
	from := w.state.Phase
	w.state = Snapshot{Phase: Idle}
	observers := w.observers
	w.mu.Unlock()

	emit(observers, from, Idle)
	return nil
}

// Analyze submits the selected image once and records the outcome. The
// workflow leaves Analyzing exactly once per accepted call, whatever the
// outcome. Failures are stored as error detail, not retried.
func (w *Workflow) Analyze(ctx context.Context) (*predictor.Prediction, error) {
	w.mu.Lock()
	img := w.state.Image
	if img == nil {
		w.mu.Unlock()
		w.notifier.Notify(noSelectionNotice)
		return nil, ErrNoSelection
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		w.mu.Unlock()
		return nil, ErrAnalysisInFlight
	}
	from := w.state.Phase
	w.state = Snapshot{Phase: Analyzing, Image: img}
	observers := w.observers
	w.mu.Unlock()
	emit(observers, from, Analyzing)

	var (
		analysisID string
		result     *predictor.Prediction
		err        = errAborted
	)
	defer func() { w.finish(img, analysisID, result, err) }()

	analysisID, result, err = w.analyzer.Analyze(ctx, img)
	if err == nil && result == nil {
		err = errors.New("analyzer returned no result")
	}
	if err != nil {
		result = nil
		return nil, err
	}
	return result, nil
}

func (w *Workflow) finish(img *selector.Image, analysisID string, result *predictor.Prediction, err error) {
	next := Snapshot{Image: img, AnalysisID: analysisID}
	var notice Notification
	if err != nil {
		next.Phase = Failed
		next.ErrorDetail = predictor.Detail(err)
		notice = failedNotice
		w.logger.Warn("analysis failed",
			zap.String("image_id", img.ID),
			zap.String("analysis_id", analysisID),
			zap.Error(err),
		)
	} else {
		next.Phase = Succeeded
		next.Result = result
		notice = completedNotice(result.Prediction, result.IsTumor())
		w.logger.Info("analysis complete",
			zap.String("image_id", img.ID),
			zap.String("analysis_id", analysisID),
			zap.String("prediction", result.Prediction),
			zap.Float64("confidence", result.Confidence),
		)
	}

	w.mu.Lock()
	w.state = next
	w.inFlight.Store(false)
	observers := w.observers
	w.mu.Unlock()

	emit(observers, Analyzing, next.Phase)
	w.notifier.Notify(notice)
}

func emit(observers []TransitionFunc, from, to Phase) {
	for _, fn := range observers {
		fn(from, to)
	}
}
