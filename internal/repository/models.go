package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/salon-face/internal/facecode"
)

// FaceEnrollment is one stored face code for an employee. An employee may
// hold several, one per captured angle.
type FaceEnrollment struct {
	ID           uint            `gorm:"primaryKey"`
	EmployeeID   string          `gorm:"column:employee_id;index;size:64;not null"`
	FaceHash     int64           `gorm:"column:face_hash;index"`
	Features     json.RawMessage `gorm:"column:features;type:json;not null"`
	CapturedAtMs int64           `gorm:"column:captured_at_ms"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (FaceEnrollment) TableName() string {
	return "face_enrollments"
}

// NewFaceEnrollment converts a face code into its stored form.
func NewFaceEnrollment(employeeID string, code facecode.FaceCode) (*FaceEnrollment, error) {
	features, err := json.Marshal(code.Features)
	if err != nil {
		return nil, err
	}
	return &FaceEnrollment{
		EmployeeID:   employeeID,
		FaceHash:     int64(code.Hash),
		Features:     features,
		CapturedAtMs: code.Timestamp,
	}, nil
}

// FaceCode decodes the stored row. Rows that no longer satisfy the face code
// invariants are reported rather than repaired.
func (e *FaceEnrollment) FaceCode() (facecode.FaceCode, error) {
	var features []int
	if err := json.Unmarshal(e.Features, &features); err != nil {
		return facecode.FaceCode{}, fmt.Errorf("decode features of enrollment %d: %w", e.ID, err)
	}
	if e.FaceHash < 0 || e.FaceHash > int64(^uint32(0)) {
		return facecode.FaceCode{}, fmt.Errorf("enrollment %d: hash out of range: %d", e.ID, e.FaceHash)
	}
	code := facecode.FaceCode{
		Hash:      uint32(e.FaceHash),
		Features:  features,
		Timestamp: e.CapturedAtMs,
	}
	if err := code.Validate(); err != nil {
		return facecode.FaceCode{}, fmt.Errorf("enrollment %d: %w", e.ID, err)
	}
	return code, nil
}

// VerificationLog records the outcome of one verification attempt.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	EmployeeID string    `gorm:"column:employee_id;index;size:64"`
	Score      float64   `gorm:"column:score"`
	Matched    bool      `gorm:"column:matched"`
	Threshold  float64   `gorm:"column:threshold"`
	FaceHash   int64     `gorm:"column:face_hash"`
	Details    string    `gorm:"column:details;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation holds raw counters computed over verification logs.
type MetricsAggregation struct {
	TotalCount   int64
	MatchCount   int64
	AverageScore float64
}
