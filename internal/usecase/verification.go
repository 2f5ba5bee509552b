package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
)

// VerificationResult is the outcome of comparing a captured face against an
// employee's enrollments.
type VerificationResult struct {
	RequestID  string    `json:"request_id"`
	EmployeeID string    `json:"employee_id"`
	Score      float64   `json:"score"`
	Matched    bool      `json:"matched"`
	Threshold  float64   `json:"threshold"`
	FaceHash   uint32    `json:"face_hash"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

// Verify extracts a face code from the image and scores it against every
// enrollment of the employee. The best score decides the match against the
// configured threshold.
func (uc *FaceUseCase) Verify(ctx context.Context, employeeID string, imageBytes []byte) (*VerificationResult, error) {
	requestID := uuid.NewString()
	employeeID = strings.TrimSpace(employeeID)
	opLogger := logging.WithEmployee(logging.WithOperation(uc.logger, "usecase.verify", requestID), employeeID)

	if employeeID == "" {
		return nil, logging.NewOperationError("usecase.verify", requestID, ErrEmployeeRequired)
	}

	captured, err := facecode.ExtractAt(imageBytes, uc.now())
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract", requestID, err)
		opLogger.Warn("face code extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	cacheKey := verificationKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}
	// the request id never reaches the caller on failure, so drop the flag
	succeeded := false
	defer func() {
		if !succeeded {
			uc.clearProcessing(ctx, requestID, cacheKey)
		}
	}()

	enrolled, err := uc.enrolledCodes(ctx, requestID, employeeID)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.load_enrollments", requestID, err)
		opLogger.Error("failed to load enrollments", zap.Error(wrapped))
		return nil, wrapped
	}
	if len(enrolled) == 0 {
		return nil, logging.NewOperationError("usecase.verify", requestID, ErrNoEnrollment)
	}

	best := 0.0
	for _, code := range enrolled {
		if score := facecode.Similarity(captured, code); score > best {
			best = score
		}
	}
	matched := best >= uc.threshold

	result := &VerificationResult{
		RequestID:  requestID,
		EmployeeID: employeeID,
		Score:      best,
		Matched:    matched,
		Threshold:  uc.threshold,
		FaceHash:   captured.Hash,
		Details:    fmt.Sprintf("matched:%t score:%f threshold:%f candidates:%d", matched, best, uc.threshold, len(enrolled)),
		CreatedAt:  uc.now().UTC(),
	}

	log := &repository.VerificationLog{
		RequestID:  result.RequestID,
		EmployeeID: result.EmployeeID,
		Score:      result.Score,
		Matched:    result.Matched,
		Threshold:  result.Threshold,
		FaceHash:   int64(result.FaceHash),
		Details:    result.Details,
		CreatedAt:  result.CreatedAt,
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return nil, err
	}

	succeeded = true
	opLogger.Info("verification completed", zap.Float64("score", best), zap.Bool("matched", matched))
	return result, nil
}

func (uc *FaceUseCase) clearProcessing(ctx context.Context, requestID, cacheKey string) {
	if err := uc.withRedisRetry(ctx, requestID, "cache.del.processing", func() error {
		return uc.cache.Del(ctx, cacheKey)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.verify", requestID).Warn("failed to clear processing flag", zap.Error(err))
	}
}

// GetResult retrieves a cached verification outcome or loads it from
// persistence.
func (uc *FaceUseCase) GetResult(ctx context.Context, requestID string) (*VerificationResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", verificationKey(requestID)); err == nil {
		var result VerificationResult
		if err := json.Unmarshal([]byte(cached), &result); err != nil {
			// "processing" placeholders land here too
			opLogger.Debug("cached value is not a result", zap.Error(err))
		} else {
			if result.RequestID == "" {
				result.RequestID = requestID
			}
			return &result, nil
		}
	} else if !isCacheMiss(err) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &VerificationResult{
		RequestID:  log.RequestID,
		EmployeeID: log.EmployeeID,
		Score:      log.Score,
		Matched:    log.Matched,
		Threshold:  log.Threshold,
		FaceHash:   uint32(log.FaceHash),
		Details:    log.Details,
		CreatedAt:  log.CreatedAt,
	}, nil
}
