package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/salon-face/internal/logging"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("repository: record not found")

// FaceRepository persists face enrollments and verification logs.
type FaceRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewFaceRepository creates a new repository instance.
func NewFaceRepository(db *gorm.DB, logger *zap.Logger) *FaceRepository {
	return &FaceRepository{
		db:             db,
		logger:         logger.Named("face_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *FaceRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&FaceEnrollment{}, &VerificationLog{})
	})
}

// SaveEnrollment persists a new enrollment. Existing ones are never replaced.
func (r *FaceRepository) SaveEnrollment(ctx context.Context, enrollment *FaceEnrollment) error {
	return r.executeWithRetry(ctx, "repository.save_enrollment", enrollment.EmployeeID, func() error {
		return r.db.WithContext(ctx).Create(enrollment).Error
	})
}

// ListEnrollments returns the employee's enrollments, oldest first.
func (r *FaceRepository) ListEnrollments(ctx context.Context, employeeID string) ([]*FaceEnrollment, error) {
	var enrollments []*FaceEnrollment
	err := r.executeWithRetry(ctx, "repository.list_enrollments", employeeID, func() error {
		enrollments = nil
		return r.db.WithContext(ctx).
			Where("employee_id = ?", employeeID).
			Order("id asc").
			Find(&enrollments).Error
	})
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

// CountEnrollments returns how many enrollments the employee holds.
func (r *FaceRepository) CountEnrollments(ctx context.Context, employeeID string) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.count_enrollments", employeeID, func() error {
		return r.db.WithContext(ctx).Model(&FaceEnrollment{}).
			Where("employee_id = ?", employeeID).
			Count(&count).Error
	})
	return count, err
}

// DeleteEnrollments removes every enrollment of the employee and returns how
// many rows went away.
func (r *FaceRepository) DeleteEnrollments(ctx context.Context, employeeID string) (int64, error) {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.delete_enrollments", employeeID, func() error {
		res := r.db.WithContext(ctx).Where("employee_id = ?", employeeID).Delete(&FaceEnrollment{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// FindEnrollmentsByHash returns enrollments of other employees that share one
// of the given hashes.
func (r *FaceRepository) FindEnrollmentsByHash(ctx context.Context, hashes []int64, excludeEmployeeID string) ([]*FaceEnrollment, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	var enrollments []*FaceEnrollment
	err := r.executeWithRetry(ctx, "repository.find_enrollments_by_hash", excludeEmployeeID, func() error {
		enrollments = nil
		return r.db.WithContext(ctx).
			Where("face_hash IN ? AND employee_id <> ?", hashes, excludeEmployeeID).
			Order("employee_id asc, id asc").
			Find(&enrollments).Error
	})
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

// SaveLog persists a verification log entry.
func (r *FaceRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the verification log for a request.
func (r *FaceRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// PurgeLogsBefore deletes verification logs created before cutoff.
func (r *FaceRepository) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.purge_logs", "", func() error {
		res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&VerificationLog{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// AggregateMetrics computes counters over every verification log.
func (r *FaceRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS match_count, " +
				"COALESCE(AVG(score), 0) AS average_score").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *FaceRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
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

		if errors.Is(err, ErrNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransientError reports whether err is worth retrying: deadlines, network
// timeouts and errors that declare themselves temporary.
func IsTransientError(err error) bool {
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
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
