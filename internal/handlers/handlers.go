package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/auth"
	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/imageintake"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
	"github.com/example/salon-face/internal/usecase"
)

// MaxUploadSize bounds multipart uploads.
const MaxUploadSize = imageintake.MaxUploadSize

// multipart framing and form fields on top of the image itself
const multipartOverhead = 1 << 20

// FaceService is the use case surface the HTTP layer depends on.
type FaceService interface {
	Enroll(ctx context.Context, employeeID string, imageBytes []byte) (string, facecode.FaceCode, error)
	Status(ctx context.Context, employeeID string) (*usecase.EnrollmentStatus, error)
	Reset(ctx context.Context, employeeID string) (int64, error)
	GetDuplicateReport(ctx context.Context, employeeID string) (*usecase.DuplicateReport, error)
	Verify(ctx context.Context, employeeID string, imageBytes []byte) (*usecase.VerificationResult, error)
	GetResult(ctx context.Context, requestID string) (*usecase.VerificationResult, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	Compare(a, b []float64) float64
}

type compareRequest struct {
	A json.RawMessage `json:"a"`
	B json.RawMessage `json:"b"`
}

type duplicateEntry struct {
	EnrollmentID uint   `json:"enrollment_id"`
	EmployeeID   string `json:"employee_id"`
	FaceHash     uint32 `json:"face_hash"`
	CreatedAt    string `json:"created_at"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc FaceService, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{svc: svc, logger: logger.Named("http")}
	managers := auth.RequireRole(auth.RoleManager, auth.RoleAdmin)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", authMiddleware)
	api.POST("/employees/:id/face", h.enroll)
	api.GET("/employees/:id/face", h.status)
	api.DELETE("/employees/:id/face", managers, h.reset)
	api.GET("/employees/:id/face/duplicates", managers, h.duplicates)
	api.POST("/verify", h.verify)
	api.GET("/result/:id", h.result)
	api.POST("/compare", h.compare)
	api.GET("/metrics", managers, h.metrics)
}

type handler struct {
	svc    FaceService
	logger *zap.Logger
}

func (h *handler) enroll(c *gin.Context) {
	employeeID := c.Param("id")
	if !auth.CanManage(c.Request.Context(), employeeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to enroll this employee"})
		return
	}

	limitBody(c)
	img, ok := h.readImage(c)
	if !ok {
		return
	}

	requestID, code, err := h.svc.Enroll(c.Request.Context(), employeeID, img.Data)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"request_id":  requestID,
		"employee_id": employeeID,
		"face_code":   code,
	})
}

func (h *handler) status(c *gin.Context) {
	employeeID := c.Param("id")
	if !auth.CanManage(c.Request.Context(), employeeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to view this employee"})
		return
	}

	status, err := h.svc.Status(c.Request.Context(), employeeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) reset(c *gin.Context) {
	if _, err := h.svc.Reset(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) duplicates(c *gin.Context) {
	report, err := h.svc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	entries := make([]duplicateEntry, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		entries = append(entries, duplicateEntry{
			EnrollmentID: d.ID,
			EmployeeID:   d.EmployeeID,
			FaceHash:     uint32(d.FaceHash),
			CreatedAt:    d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"employee_id": report.EmployeeID,
		"hashes":      report.Hashes,
		"duplicates":  entries,
	})
}

// verify authorizes the target employee before the upload is read or sniffed.
func (h *handler) verify(c *gin.Context) {
	limitBody(c)

	employeeID := strings.TrimSpace(c.PostForm("employee_id"))
	if employeeID == "" {
		employeeID, _ = auth.GetUserID(c.Request.Context())
	}
	if !auth.CanManage(c.Request.Context(), employeeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to verify this employee"})
		return
	}

	img, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.svc.Verify(c.Request.Context(), employeeID, img.Data)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":  result.RequestID,
		"employee_id": result.EmployeeID,
		"verified":    result.Matched,
		"score":       result.Score,
		"threshold":   result.Threshold,
	})
}

func (h *handler) result(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	result, err := h.svc.GetResult(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		h.writeError(c, err)
		return
	}
	if !auth.CanManage(c.Request.Context(), result.EmployeeID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// compare scores two vectors. Entries that are not numeric arrays score 0
// instead of failing the request.
func (h *handler) compare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"similarity": h.svc.Compare(decodeVector(req.A), decodeVector(req.B))})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
}

// readImage expects the body to be limited already.
func (h *handler) readImage(c *gin.Context) (*imageintake.Image, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}

	img, err := imageintake.ReadFile(file)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return img, true
}

func (h *handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imageintake.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
	case errors.Is(err, imageintake.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
	case errors.Is(err, facecode.ErrInvalidInput), errors.Is(err, usecase.ErrEmployeeRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrNoEnrollment):
		c.JSON(http.StatusNotFound, gin.H{"error": "employee has no enrolled face"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error("request failed", append(logging.ErrorFields(err), zap.String("path", c.FullPath()))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func decodeVector(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
