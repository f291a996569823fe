package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type stubMergeService struct {
	manifest  *JobManifest
	err       error
	discarded []string
}

func (s *stubMergeService) PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader, order []int) (*JobManifest, error) {
	return s.manifest, s.err
}

func (s *stubMergeService) DiscardJob(jobID string) error {
	s.discarded = append(s.discarded, jobID)
	return nil
}

type stubScheduler struct {
	err      error
	manifest *JobManifest
	owner    string
	premium  bool
}

func (s *stubScheduler) Schedule(ctx context.Context, manifest *JobManifest, owner string, premium bool) error {
	s.manifest = manifest
	s.owner = owner
	s.premium = premium
	return s.err
}

func newMergeRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range []string{"input1.pdf", "input2.pdf"} {
		fileWriter, err := writer.CreateFormFile("files[]", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := io.Copy(fileWriter, bytes.NewReader([]byte("dummy"))); err != nil {
			t.Fatalf("failed to write dummy file: %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/pdf/merge", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestParseOrderJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order=%5B0%2C2%2C1%5D"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	order, err := parseOrder(ctx)
	if err != nil {
		t.Fatalf("parseOrder returned error: %v", err)
	}
	expected := []int{0, 2, 1}
	if len(order) != len(expected) {
		t.Fatalf("unexpected order length: %#v", order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d] = %d, want %d", i, order[i], v)
		}
	}
}

func TestParseOrderArray(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order[]=0&order[]=1"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	order, err := parseOrder(ctx)
	if err != nil {
		t.Fatalf("parseOrder returned error: %v", err)
	}
	if len(order) != 2 || order[0] != 0 || order[1] != 1 {
		t.Fatalf("unexpected order: %#v", order)
	}
}

func TestParseOrderInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order=not-json"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := parseOrder(ctx); err == nil {
		t.Fatal("expected error for invalid order")
	}
}

func TestMergeHandlerAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manifest := &JobManifest{
		JobID:     "job-123",
		Operation: OperationMerge,
		Files: []JobFile{
			{StoredName: "input-00.pdf", OriginalName: "input1.pdf", Size: 5, Pages: 1},
			{StoredName: "input-01.pdf", OriginalName: "input2.pdf", Size: 5, Pages: 1},
		},
		CreatedAt: time.Now().UTC(),
	}
	service := &stubMergeService{manifest: manifest}
	scheduler := &stubScheduler{}

	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(service, HandlerOptions{Scheduler: scheduler}))
	router.ServeHTTP(rec, newMergeRequest(t, nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["jobId"] != "job-123" {
		t.Fatalf("unexpected jobId: %s", payload["jobId"])
	}

	if scheduler.manifest == nil || scheduler.manifest.JobID != "job-123" {
		t.Fatalf("scheduler did not receive manifest: %#v", scheduler.manifest)
	}
	if len(service.discarded) != 0 {
		t.Fatalf("workspace should not be discarded on success: %v", service.discarded)
	}
}

func TestMergeHandlerQueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manifest := &JobManifest{JobID: "job-456", Operation: OperationMerge}
	service := &stubMergeService{manifest: manifest}
	scheduler := &stubScheduler{
		err: &Error{Code: "QUEUE_FULL", Message: "処理待ちのジョブが上限に達しています。"},
	}

	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(service, HandlerOptions{Scheduler: scheduler}))
	router.ServeHTTP(rec, newMergeRequest(t, nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "QUEUE_FULL" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}

	if len(service.discarded) != 1 || service.discarded[0] != "job-456" {
		t.Fatalf("expected workspace discard for job-456, got %v", service.discarded)
	}
}

func TestMergeHandlerLimitExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &stubMergeService{
		err: &Error{Code: "LIMIT_EXCEEDED", Message: "サイズ上限を超えています"},
	}

	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(service, HandlerOptions{Scheduler: &stubScheduler{}}))
	router.ServeHTTP(rec, newMergeRequest(t, nil))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "LIMIT_EXCEEDED" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}
}

func TestMergeHandlerInvalidOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &stubMergeService{}

	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/pdf/merge", MergeHandler(service, HandlerOptions{Scheduler: &stubScheduler{}}))
	router.ServeHTTP(rec, newMergeRequest(t, map[string]string{"order": "not-json"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRotateHandlerInvalidRotation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile("file", "input.pdf")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader([]byte("dummy"))); err != nil {
		t.Fatalf("failed to write dummy file: %v", err)
	}
	if err := writer.WriteField("rotation", "abc"); err != nil {
		t.Fatalf("failed to write rotation field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/pdf/rotate", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/pdf/rotate", RotateHandler(&stubRotateService{}, HandlerOptions{Scheduler: &stubScheduler{}}))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

type stubRotateService struct{}

func (s *stubRotateService) PrepareRotateJob(ctx context.Context, file *multipart.FileHeader, rotation int) (*JobManifest, error) {
	return &JobManifest{JobID: "job-rotate", Operation: OperationRotate}, nil
}

func (s *stubRotateService) DiscardJob(jobID string) error { return nil }

type stubUnlockService struct {
	manifest  *JobManifest
	password  string
	discarded []string
}

func (s *stubUnlockService) PrepareUnlockJob(ctx context.Context, file *multipart.FileHeader, password string) (*JobManifest, error) {
	s.password = password
	return s.manifest, nil
}

func (s *stubUnlockService) DiscardJob(jobID string) error {
	s.discarded = append(s.discarded, jobID)
	return nil
}

func newUnlockRequest(t *testing.T, password string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile("file", "locked.pdf")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader([]byte("dummy"))); err != nil {
		t.Fatalf("failed to write dummy file: %v", err)
	}
	if password != "" {
		if err := writer.WriteField("password", password); err != nil {
			t.Fatalf("failed to write password field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/pdf/unlock", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUnlockHandlerAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manifest := &JobManifest{
		JobID:     "job-unlock",
		Operation: OperationUnlock,
		Files: []JobFile{
			{StoredName: "input-01.pdf", OriginalName: "locked.pdf", Size: 5},
		},
		CreatedAt: time.Now().UTC(),
	}
	service := &stubUnlockService{manifest: manifest}
	scheduler := &stubScheduler{}

	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/api/pdf/unlock", UnlockHandler(service, HandlerOptions{Scheduler: scheduler}))
	router.ServeHTTP(rec, newUnlockRequest(t, "secret"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if service.password != "secret" {
		t.Fatalf("unexpected password passed to service: %q", service.password)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["jobId"] != "job-unlock" {
		t.Fatalf("unexpected jobId: %s", payload["jobId"])
	}
	if scheduler.manifest == nil || scheduler.manifest.Operation != OperationUnlock {
		t.Fatalf("scheduler did not receive manifest: %#v", scheduler.manifest)
	}
	if len(service.discarded) != 0 {
		t.Fatalf("workspace should not be discarded on success: %v", service.discarded)
	}
}

func TestPrepareUnlockJobRequiresPassword(t *testing.T) {
	svc := &Service{}

	_, err := svc.PrepareUnlockJob(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error for missing password")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected error: %v", err)
	}
}
