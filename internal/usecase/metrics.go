package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/logging"
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalVerifications int64   `json:"total_verifications"`
	Matches            int64   `json:"matches"`
	MatchRate          float64 `json:"match_rate"`
	AverageScore       float64 `json:"average_score"`
	Threshold          float64 `json:"threshold"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *FaceUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalVerifications: aggregation.TotalCount,
		Matches:            aggregation.MatchCount,
		AverageScore:       aggregation.AverageScore,
		Threshold:          uc.threshold,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

// PurgeExpiredLogs removes verification logs older than retention. A
// non-positive retention keeps everything.
func (uc *FaceUseCase) PurgeExpiredLogs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	requestID := uuid.NewString()
	cutoff := uc.now().UTC().Add(-retention)
	purged, err := uc.repo.PurgeLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, logging.NewOperationError("usecase.purge_logs", requestID, err)
	}
	if purged > 0 {
		logging.WithOperation(uc.logger, "usecase.purge_logs", requestID).
			Info("expired verification logs removed", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
	return purged, nil
}
