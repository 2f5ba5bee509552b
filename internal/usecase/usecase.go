package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
)

var (
	// ErrNoEnrollment is returned when an employee has no stored face codes.
	ErrNoEnrollment = errors.New("usecase: employee has no enrolled face")
	// ErrEmployeeRequired is returned when the employee id is blank.
	ErrEmployeeRequired = errors.New("usecase: employee id is required")
)

// FaceRepository defines the persistence operations needed by the use case.
type FaceRepository interface {
	SaveEnrollment(ctx context.Context, enrollment *repository.FaceEnrollment) error
	ListEnrollments(ctx context.Context, employeeID string) ([]*repository.FaceEnrollment, error)
	CountEnrollments(ctx context.Context, employeeID string) (int64, error)
	DeleteEnrollments(ctx context.Context, employeeID string) (int64, error)
	FindEnrollmentsByHash(ctx context.Context, hashes []int64, excludeEmployeeID string) ([]*repository.FaceEnrollment, error)
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options tunes a FaceUseCase. Threshold is used as given, including 0; only
// a negative threshold falls back to DefaultThreshold. Other zero values fall
// back to defaults.
type Options struct {
	Threshold float64
	CacheTTL  time.Duration
	Now       func() time.Time
}

// FaceUseCase encapsulates enrollment and verification of employee face codes.
type FaceUseCase struct {
	repo           FaceRepository
	cache          Cache
	logger         *zap.Logger
	threshold      float64
	cacheTTL       time.Duration
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// DefaultThreshold is the similarity at or above which two codes match.
const DefaultThreshold = 0.90

// NewFaceUseCase constructs a new use case instance.
func NewFaceUseCase(repo FaceRepository, cache Cache, logger *zap.Logger, opts Options) *FaceUseCase {
	uc := &FaceUseCase{
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("face_usecase"),
		threshold:      opts.Threshold,
		cacheTTL:       opts.CacheTTL,
		now:            opts.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	if uc.threshold < 0 {
		uc.threshold = DefaultThreshold
	}
	if uc.cacheTTL <= 0 {
		uc.cacheTTL = 5 * time.Minute
	}
	if uc.now == nil {
		uc.now = time.Now
	}
	return uc
}

// Threshold returns the match threshold in use.
func (uc *FaceUseCase) Threshold() float64 {
	return uc.threshold
}

// Compare scores two raw feature vectors.
func (uc *FaceUseCase) Compare(a, b []float64) float64 {
	return facecode.CosineSimilarity(a, b)
}

// enrolledCodes loads the employee's face codes, preferring the cache.
func (uc *FaceUseCase) enrolledCodes(ctx context.Context, requestID, employeeID string) ([]facecode.FaceCode, error) {
	key := faceCodesKey(employeeID)
	opLogger := logging.WithEmployee(logging.WithOperation(uc.logger, "usecase.enrolled_codes", requestID), employeeID)

	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.facecodes", key); err == nil {
		var codes []facecode.FaceCode
		decodeErr := json.Unmarshal([]byte(cached), &codes)
		if decodeErr == nil {
			return codes, nil
		}
		opLogger.Warn("failed to decode cached face codes", zap.Error(decodeErr))
	} else if !isCacheMiss(err) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	rows, err := uc.repo.ListEnrollments(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	codes := make([]facecode.FaceCode, 0, len(rows))
	for _, row := range rows {
		code, err := row.FaceCode()
		if err != nil {
			opLogger.Warn("skipping corrupt enrollment", zap.Error(err))
			continue
		}
		codes = append(codes, code)
	}

	if len(codes) > 0 {
		if serialized, err := json.Marshal(codes); err == nil {
			if err := uc.withRedisRetry(ctx, requestID, "cache.set.facecodes", func() error {
				return uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL)
			}); err != nil {
				opLogger.Warn("failed to cache face codes", zap.Error(err))
			}
		}
	}
	return codes, nil
}

func (uc *FaceUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
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

		if isCacheMiss(err) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *FaceUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
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
