package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/auth"
	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
	"github.com/example/salon-face/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	enrolledFor  string
	enrolledData []byte
	verifiedFor  string
	verifyResult *usecase.VerificationResult
	verifyErr    error
	result       *usecase.VerificationResult
	report       *usecase.DuplicateReport
	resetFor     string
}

func (s *stubService) Enroll(ctx context.Context, employeeID string, imageBytes []byte) (string, facecode.FaceCode, error) {
	s.enrolledFor = employeeID
	s.enrolledData = imageBytes
	code, err := facecode.Extract(imageBytes)
	return "req-enroll", code, err
}

func (s *stubService) Status(ctx context.Context, employeeID string) (*usecase.EnrollmentStatus, error) {
	return &usecase.EnrollmentStatus{EmployeeID: employeeID, IsRegistered: true, FaceCount: 2}, nil
}

func (s *stubService) Reset(ctx context.Context, employeeID string) (int64, error) {
	s.resetFor = employeeID
	return 1, nil
}

func (s *stubService) GetDuplicateReport(ctx context.Context, employeeID string) (*usecase.DuplicateReport, error) {
	if s.report == nil {
		return nil, usecase.ErrNoEnrollment
	}
	return s.report, nil
}

func (s *stubService) Verify(ctx context.Context, employeeID string, imageBytes []byte) (*usecase.VerificationResult, error) {
	s.verifiedFor = employeeID
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyResult, nil
}

func (s *stubService) GetResult(ctx context.Context, requestID string) (*usecase.VerificationResult, error) {
	if s.result == nil {
		return nil, logging.NewOperationError("repository.find_by_request_id", requestID, repository.ErrNotFound)
	}
	return s.result, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalVerifications: 3}, nil
}

func (s *stubService) Compare(a, b []float64) float64 {
	return facecode.CosineSimilarity(a, b)
}

func newTestRouter(svc FaceService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.JWTMiddleware(testJWTSecret, ""), zap.NewNop())
	return router
}

func TestHealthNeedsNoToken(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(&stubService{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestEnrollStoresUploadedImage(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)
	payload := pngBytes(t)

	body, contentType := buildMultipartBody(t, "image/png", payload, nil)
	req := httptest.NewRequest(http.MethodPost, "/employees/emp-1/face", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "emp-1", ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusCreated, resp.Code, resp.Body.String())
	}
	if svc.enrolledFor != "emp-1" || !bytes.Equal(svc.enrolledData, payload) {
		t.Fatalf("unexpected enrollment call: %q", svc.enrolledFor)
	}

	var decoded struct {
		FaceCode facecode.FaceCode `json:"face_code"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := decoded.FaceCode.Validate(); err != nil {
		t.Fatalf("response carries an invalid face code: %v", err)
	}
}

func TestEnrollForbiddenForOtherEmployee(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/employees/emp-2/face", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "emp-1", ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, resp.Code)
	}
}

func TestVerifyRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "user-123", "")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), nil)

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestVerifyRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "user-123", "")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), nil)

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestVerifyAuthorizesBeforeReadingImage(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), map[string]string{"employee_id": "emp-2"})
	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "emp-1", ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusForbidden, resp.Code, resp.Body.String())
	}
	if svc.verifiedFor != "" {
		t.Fatalf("verify should not run, got %q", svc.verifiedFor)
	}
}

func TestVerifyDefaultsToTokenSubject(t *testing.T) {
	svc := &stubService{verifyResult: &usecase.VerificationResult{RequestID: "req-1", EmployeeID: "emp-1", Score: 0.97, Matched: true, Threshold: 0.9}}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", pngBytes(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "emp-1", ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	if svc.verifiedFor != "emp-1" {
		t.Fatalf("expected verify for emp-1, got %q", svc.verifiedFor)
	}
	if !strings.Contains(resp.Body.String(), `"verified":true`) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestVerifyMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no enrollment", logging.NewOperationError("usecase.verify", "req", usecase.ErrNoEnrollment), http.StatusNotFound},
		{"invalid input", logging.NewOperationError("usecase.extract", "req", facecode.ErrInvalidInput), http.StatusBadRequest},
		{"internal", fmt.Errorf("database down"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubService{verifyErr: tc.err})
			body, contentType := buildMultipartBody(t, "image/png", pngBytes(t), map[string]string{"employee_id": "emp-9"})
			req := httptest.NewRequest(http.MethodPost, "/verify", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "boss", auth.RoleManager))

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestCompareIsTotal(t *testing.T) {
	router := newTestRouter(&stubService{})
	token := buildTestToken(t, "emp-1", "")

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"identical", `{"a":[255,255],"b":[255,255]}`, http.StatusOK, `{"similarity":1}`},
		{"mismatched", `{"a":[1,2,3],"b":[1,2]}`, http.StatusOK, `{"similarity":0}`},
		{"not arrays", `{"a":"x","b":{}}`, http.StatusOK, `{"similarity":0}`},
		{"missing", `{}`, http.StatusOK, `{"similarity":0}`},
		{"not an object", `[1,2]`, http.StatusBadRequest, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/compare", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.code {
				t.Fatalf("expected status %d, got %d", tc.code, resp.Code)
			}
			if tc.want != "" && resp.Body.String() != tc.want {
				t.Fatalf("expected body %s, got %s", tc.want, resp.Body.String())
			}
		})
	}
}

func TestManagerRoutesRequireRole(t *testing.T) {
	svc := &stubService{report: &usecase.DuplicateReport{
		EmployeeID: "emp-1",
		Hashes:     []uint32{42},
		Duplicates: []*repository.FaceEnrollment{{ID: 9, EmployeeID: "emp-2", FaceHash: 42}},
	}}
	router := newTestRouter(svc)

	tests := []struct {
		method string
		path   string
		role   string
		want   int
	}{
		{http.MethodDelete, "/employees/emp-1/face", "", http.StatusForbidden},
		{http.MethodDelete, "/employees/emp-1/face", auth.RoleManager, http.StatusNoContent},
		{http.MethodGet, "/employees/emp-1/face/duplicates", "", http.StatusForbidden},
		{http.MethodGet, "/employees/emp-1/face/duplicates", auth.RoleAdmin, http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusForbidden},
		{http.MethodGet, "/metrics", auth.RoleManager, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path+" "+tc.role, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "emp-1", tc.role))

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, resp.Code)
			}
		})
	}
	if svc.resetFor != "emp-1" {
		t.Fatalf("expected reset for emp-1, got %q", svc.resetFor)
	}
}

func TestResultNotFoundAndOwnership(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	get := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/result/req-1", nil)
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, subject, ""))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := get("emp-1"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown result, got %d", code)
	}

	svc.result = &usecase.VerificationResult{RequestID: "req-1", EmployeeID: "emp-1"}
	if code := get("emp-1"); code != http.StatusOK {
		t.Fatalf("expected owner to read result, got %d", code)
	}
	if code := get("emp-2"); code != http.StatusNotFound {
		t.Fatalf("expected other employee to be hidden from result, got %d", code)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{uint8(30 * x), 90, 160, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject, role string) string {
	t.Helper()

	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
