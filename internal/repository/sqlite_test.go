package repository

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/predictor"
)

func openTestRepository(t *testing.T) *AnalysisRepository {
	t.Helper()

	db, err := Open(context.Background(), "sqlite", ":memory:", zap.NewNop())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := NewAnalysisRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "", zap.NewNop()); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSaveAndFindLog(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	logs := []*AnalysisLog{
		{AnalysisID: "a-1", SessionID: "s-1", Prediction: predictor.TumorDetected, Confidence: 0.9, Success: true, LatencyMs: 100, CreatedAt: base},
		{AnalysisID: "a-2", SessionID: "s-1", Prediction: "No Tumor", Confidence: 0.7, Success: true, LatencyMs: 200, CreatedAt: base.Add(time.Minute)},
		{AnalysisID: "a-3", SessionID: "s-2", Success: false, ErrorDetail: "Error: 500 boom", LatencyMs: 300, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, log := range logs {
		if err := repo.SaveLog(ctx, log); err != nil {
			t.Fatalf("save %s: %v", log.AnalysisID, err)
		}
	}

	found, err := repo.FindByAnalysisID(ctx, "a-3")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ErrorDetail != "Error: 500 boom" || found.Success {
		t.Fatalf("unexpected log %+v", found)
	}

	if _, err := repo.FindByAnalysisID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	listed, err := repo.ListBySession(ctx, "s-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].AnalysisID != "a-2" {
		t.Fatalf("expected newest first for s-1, got %d logs", len(listed))
	}

	aggregation, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if aggregation.TotalCount != 3 || aggregation.SuccessCount != 2 || aggregation.TumorCount != 1 {
		t.Fatalf("unexpected counts %+v", aggregation)
	}
	if math.Abs(aggregation.AverageConfidence-0.8) > 1e-9 {
		t.Fatalf("expected average confidence 0.8, got %v", aggregation.AverageConfidence)
	}
	if math.Abs(aggregation.AverageLatencyMs-200) > 1e-9 {
		t.Fatalf("expected average latency 200, got %v", aggregation.AverageLatencyMs)
	}
}

func TestAggregateMetricsEmpty(t *testing.T) {
	repo := openTestRepository(t)

	aggregation, err := repo.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if aggregation.TotalCount != 0 || aggregation.AverageConfidence != 0 {
		t.Fatalf("expected zero aggregation, got %+v", aggregation)
	}
}
