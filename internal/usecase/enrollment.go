package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
)

// EnrollmentStatus summarises the face codes stored for an employee.
type EnrollmentStatus struct {
	EmployeeID   string `json:"employee_id"`
	IsRegistered bool   `json:"is_registered"`
	FaceCount    int64  `json:"face_count"`
}

// DuplicateReport lists enrollments of other employees whose hash collides
// with one of the employee's own enrollments.
type DuplicateReport struct {
	EmployeeID string                       `json:"employee_id"`
	Hashes     []uint32                     `json:"hashes"`
	Duplicates []*repository.FaceEnrollment `json:"-"`
}

// Enroll derives a face code from the image and appends it to the
// employee's enrollments.
func (uc *FaceUseCase) Enroll(ctx context.Context, employeeID string, imageBytes []byte) (string, facecode.FaceCode, error) {
	requestID := uuid.NewString()
	employeeID = strings.TrimSpace(employeeID)
	opLogger := logging.WithEmployee(logging.WithOperation(uc.logger, "usecase.enroll", requestID), employeeID)

	if employeeID == "" {
		return "", facecode.FaceCode{}, logging.NewOperationError("usecase.enroll", requestID, ErrEmployeeRequired)
	}

	code, err := facecode.ExtractAt(imageBytes, uc.now())
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract", requestID, err)
		opLogger.Warn("face code extraction failed", zap.Error(wrapped))
		return "", facecode.FaceCode{}, wrapped
	}

	enrollment, err := repository.NewFaceEnrollment(employeeID, code)
	if err != nil {
		return "", facecode.FaceCode{}, logging.NewOperationError("usecase.encode_enrollment", requestID, err)
	}
	enrollment.CreatedAt = uc.now().UTC()

	if err := uc.repo.SaveEnrollment(ctx, enrollment); err != nil {
		wrapped := logging.NewOperationError("usecase.save_enrollment", requestID, err)
		opLogger.Error("failed to persist enrollment", zap.Error(wrapped))
		return "", facecode.FaceCode{}, wrapped
	}

	uc.invalidateCodes(ctx, requestID, employeeID)
	opLogger.Info("face enrolled", zap.Uint32("hash", code.Hash))
	return requestID, code, nil
}

// Status reports whether the employee has any enrolled face codes.
func (uc *FaceUseCase) Status(ctx context.Context, employeeID string) (*EnrollmentStatus, error) {
	count, err := uc.repo.CountEnrollments(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return &EnrollmentStatus{
		EmployeeID:   employeeID,
		IsRegistered: count > 0,
		FaceCount:    count,
	}, nil
}

// Reset removes every enrollment of the employee.
func (uc *FaceUseCase) Reset(ctx context.Context, employeeID string) (int64, error) {
	requestID := uuid.NewString()
	deleted, err := uc.repo.DeleteEnrollments(ctx, employeeID)
	if err != nil {
		return 0, err
	}
	uc.invalidateCodes(ctx, requestID, employeeID)
	logging.WithEmployee(logging.WithOperation(uc.logger, "usecase.reset", requestID), employeeID).
		Info("enrollments removed", zap.Int64("count", deleted))
	return deleted, nil
}

// GetDuplicateReport finds other employees enrolled with a colliding hash.
// Hashes only cover a prefix of the image, so a hit flags a likely reused
// photo rather than proving one.
func (uc *FaceUseCase) GetDuplicateReport(ctx context.Context, employeeID string) (*DuplicateReport, error) {
	rows, err := uc.repo.ListEnrollments(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoEnrollment
	}

	seen := make(map[int64]struct{}, len(rows))
	report := &DuplicateReport{EmployeeID: employeeID}
	hashes := make([]int64, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.FaceHash]; ok {
			continue
		}
		seen[row.FaceHash] = struct{}{}
		hashes = append(hashes, row.FaceHash)
		report.Hashes = append(report.Hashes, uint32(row.FaceHash))
	}

	duplicates, err := uc.repo.FindEnrollmentsByHash(ctx, hashes, employeeID)
	if err != nil {
		return nil, err
	}
	report.Duplicates = duplicates
	return report, nil
}

func (uc *FaceUseCase) invalidateCodes(ctx context.Context, requestID, employeeID string) {
	if err := uc.withRedisRetry(ctx, requestID, "cache.del.facecodes", func() error {
		return uc.cache.Del(ctx, faceCodesKey(employeeID))
	}); err != nil {
		// the TTL bounds how long a stale entry survives
		logging.WithOperation(uc.logger, "usecase.invalidate_codes", requestID).Warn("failed to invalidate cached face codes", zap.Error(err))
	}
}
