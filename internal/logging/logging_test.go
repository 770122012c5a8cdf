package logging

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("op", "id", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("predictor.post", "a-1", base)

	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
	if got := err.Error(); got != "predictor.post (analysis_id=a-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}

	noID := NewOperationError("cache.get", "", base)
	if got := noID.Error(); got != "cache.get: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be disabled at the fallback level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be enabled at the fallback level")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithOperation(zap.New(core), "workflow.analyze", "a-2").Info("done")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "workflow.analyze" || fields["analysis_id"] != "a-2" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if !strings.Contains(entries[0].Message, "done") {
		t.Fatalf("unexpected message: %s", entries[0].Message)
	}
}
