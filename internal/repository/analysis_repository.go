package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/neuroscan/internal/logging"
	"github.com/example/neuroscan/internal/predictor"
)

// ErrNotFound is returned when no analysis log matches.
var ErrNotFound = errors.New("analysis log not found")

// AnalysisLog is one completed analysis attempt.
type AnalysisLog struct {
	ID          uint      `gorm:"primaryKey"`
	AnalysisID  string    `gorm:"column:analysis_id;uniqueIndex;size:64"`
	SessionID   string    `gorm:"column:session_id;index;size:64"`
	Filename    string    `gorm:"column:filename;size:255"`
	ImageSHA1   string    `gorm:"column:image_sha1;index;size:40"`
	Prediction  string    `gorm:"column:prediction;size:128"`
	Confidence  float64   `gorm:"column:confidence"`
	Status      string    `gorm:"column:status;size:64"`
	Success     bool      `gorm:"column:success"`
	ErrorDetail string    `gorm:"column:error_detail;type:text"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// MetricsAggregation holds aggregate values over all analysis logs.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	TumorCount        int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// AnalysisRepository persists analysis logs.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis log entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.AnalysisID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByAnalysisID retrieves one analysis log.
func (r *AnalysisRepository) FindByAnalysisID(ctx context.Context, analysisID string) (*AnalysisLog, error) {
	var log AnalysisLog
	err := r.executeWithRetry(ctx, "repository.find_by_analysis_id", analysisID, func() error {
		return r.db.WithContext(ctx).First(&log, "analysis_id = ?", analysisID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListBySession returns the most recent logs of a session, newest first.
func (r *AnalysisRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*AnalysisLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*AnalysisLog
	err := r.executeWithRetry(ctx, "repository.list_by_session", "", func() error {
		return r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarises every recorded attempt. Confidence is
// averaged over successful attempts only.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(SUM(CASE WHEN success AND prediction = ? THEN 1 ELSE 0 END), 0) AS tumor_count,
				COALESCE(AVG(CASE WHEN success THEN confidence END), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`, predictor.TumorDetected).
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, analysisID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	opLogger := logging.WithOperation(r.logger, operation, analysisID)

	backoff := r.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, analysisID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, analysisID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, analysisID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
