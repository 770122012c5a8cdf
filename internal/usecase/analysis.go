package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/logging"
	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/repository"
	"github.com/example/neuroscan/internal/selector"
	"github.com/example/neuroscan/internal/workflow"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByAnalysisID(ctx context.Context, analysisID string) (*repository.AnalysisLog, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisUseCase runs inference and records every attempt. Recording is
// best effort: storage failures are logged and never change the outcome
// returned to the caller.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	predictor      predictor.Client
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

type cachedAnalysis struct {
	AnalysisID  string    `json:"analysis_id"`
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	ImageSHA1   string    `json:"image_sha1"`
	Prediction  string    `json:"prediction"`
	Confidence  float64   `json:"confidence"`
	Status      string    `json:"status"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error_detail"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAnalysisUseCase constructs a use case. repo and cache may be nil to
// disable persistence or caching.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, client predictor.Client, cacheTTL time.Duration, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		predictor:      client,
		logger:         logger.Named("analysis_usecase"),
		cacheTTL:       cacheTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// ForSession binds the use case to a session so it can drive a workflow.
func (uc *AnalysisUseCase) ForSession(sessionID string) workflow.Analyzer {
	return sessionAnalyzer{uc: uc, sessionID: sessionID}
}

type sessionAnalyzer struct {
	uc        *AnalysisUseCase
	sessionID string
}

func (s sessionAnalyzer) Analyze(ctx context.Context, img *selector.Image) (string, *predictor.Prediction, error) {
	return s.uc.Analyze(ctx, s.sessionID, img)
}

// Analyze submits img once and returns the analysis id with the outcome.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, sessionID string, img *selector.Image) (string, *predictor.Prediction, error) {
	analysisID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", analysisID)

	started := uc.now()
	result, err := uc.predictor.Predict(ctx, img.Upload())
	latency := uc.now().Sub(started)
	if err != nil {
		opLogger.Warn("prediction failed", zap.Error(err), zap.Duration("latency", latency))
	}

	hash := sha1.Sum(img.Data)
	log := &repository.AnalysisLog{
		AnalysisID: analysisID,
		SessionID:  sessionID,
		Filename:   img.Filename,
		ImageSHA1:  hex.EncodeToString(hash[:]),
		Success:    err == nil,
		LatencyMs:  latency.Milliseconds(),
		CreatedAt:  uc.now().UTC(),
	}
	if err != nil {
		log.ErrorDetail = predictor.Detail(err)
	} else {
		log.Prediction = result.Prediction
		log.Confidence = result.Confidence
		log.Status = result.Status
	}
	uc.record(ctx, log)

	if err != nil {
		return analysisID, nil, err
	}
	return analysisID, result, nil
}

func (uc *AnalysisUseCase) record(ctx context.Context, log *repository.AnalysisLog) {
	opLogger := logging.WithOperation(uc.logger, "usecase.record", log.AnalysisID)

	if uc.repo != nil {
		if err := uc.repo.SaveLog(ctx, log); err != nil {
			opLogger.Error("failed to persist analysis log", zap.Error(logging.NewOperationError("usecase.save_log", log.AnalysisID, err)))
		}
	}

	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize analysis log", zap.Error(err))
		return
	}
	key := cacheKey(log.AnalysisID)
	if err := uc.withRedisRetry(ctx, log.AnalysisID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache analysis log", zap.Error(err))
	}
}

// GetResult returns a recorded analysis from the cache, falling back to
// the repository.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, analysisID string) (*repository.AnalysisLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", analysisID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, analysisID, "cache.get.result", cacheKey(analysisID))
		switch {
		case err == nil:
			var payload cachedAnalysis
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				opLogger.Warn("failed to decode cached result", zap.Error(err))
			} else {
				return fromCached(payload), nil
			}
		case !errors.Is(err, ErrCacheMiss):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, repository.ErrNotFound
	}
	return uc.repo.FindByAnalysisID(ctx, analysisID)
}

// History returns the newest recorded attempts of a session. Without a
// repository it is always empty.
func (uc *AnalysisUseCase) History(ctx context.Context, sessionID string, limit int) ([]*repository.AnalysisLog, error) {
	if uc.repo == nil || sessionID == "" {
		return nil, nil
	}
	return uc.repo.ListBySession(ctx, sessionID, limit)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, analysisID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, analysisID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, analysisID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, analysisID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, analysisID, err)
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, analysisID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, analysisID, operation, key string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, analysisID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func cacheKey(analysisID string) string {
	return fmt.Sprintf("analysis:%s", analysisID)
}

func toCached(log *repository.AnalysisLog) cachedAnalysis {
	return cachedAnalysis{
		AnalysisID:  log.AnalysisID,
		SessionID:   log.SessionID,
		Filename:    log.Filename,
		ImageSHA1:   log.ImageSHA1,
		Prediction:  log.Prediction,
		Confidence:  log.Confidence,
		Status:      log.Status,
		Success:     log.Success,
		ErrorDetail: log.ErrorDetail,
		LatencyMs:   log.LatencyMs,
		CreatedAt:   log.CreatedAt,
	}
}

func fromCached(c cachedAnalysis) *repository.AnalysisLog {
	return &repository.AnalysisLog{
		AnalysisID:  c.AnalysisID,
		SessionID:   c.SessionID,
		Filename:    c.Filename,
		ImageSHA1:   c.ImageSHA1,
		Prediction:  c.Prediction,
		Confidence:  c.Confidence,
		Status:      c.Status,
		Success:     c.Success,
		ErrorDetail: c.ErrorDetail,
		LatencyMs:   c.LatencyMs,
		CreatedAt:   c.CreatedAt,
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
