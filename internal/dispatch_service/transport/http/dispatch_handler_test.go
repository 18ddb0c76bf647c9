package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/molarplus/golang_services/internal/dispatch_service/app"
	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// MockDispatchService is a mock implementation of DispatchService.
type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) Submit(ctx context.Context, req app.SubmitRequest) (*domain.DispatchJob, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DispatchJob), args.Error(1)
}

func (m *MockDispatchService) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.JobSummary), args.Error(1)
}

func (m *MockDispatchService) GetJob(ctx context.Context, id string) (*domain.DispatchJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DispatchJob), args.Error(1)
}

func (m *MockDispatchService) CancelJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newTestRouter(service DispatchService) *chi.Mux {
	handler := NewDispatchHandler(service, slog.Default(), validator.New())
	router := chi.NewRouter()
	router.Route("/api/v1/dispatch", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	return router
}

func finishedJob(status domain.JobStatus) *domain.DispatchJob {
	now := time.Now().UTC()
	return &domain.DispatchJob{
		ID:         "job-1",
		Mode:       domain.ModeImmediate,
		Message:    "hello",
		Recipients: []string{"08123456789", "+2348012345678"},
		Status:     status,
		SentCount:  1, FailedCount: 1,
		Results: map[string]domain.RecipientResult{
			"08123456789":    {Status: domain.RecipientSent},
			"+2348012345678": {Status: domain.RecipientFailed, Reason: "not registered"},
		},
		CreatedAt:   now,
		CompletedAt: &now,
	}
}

func TestDispatchHandler_BulkDispatch_Success(t *testing.T) {
	mockService := new(MockDispatchService)
	job := finishedJob(domain.StatusPartial)
	mockService.On("Submit", mock.Anything, mock.MatchedBy(func(req app.SubmitRequest) bool {
		return req.Mode == domain.ModeImmediate && req.Message == "hello" && len(req.Recipients) == 2
	})).Return(job, nil)

	body, _ := json.Marshal(BulkDispatchRequestDTO{
		Message:    "hello",
		Recipients: []string{"08123456789", "+2348012345678"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/bulk", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resDTO DispatchJobDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resDTO))
	assert.Equal(t, "job-1", resDTO.ID)
	assert.Equal(t, "partial", resDTO.Status)
	assert.Equal(t, 1, resDTO.SentCount)
	assert.Equal(t, 1, resDTO.FailedCount)
	assert.Equal(t, "not registered", resDTO.Results["+2348012345678"].Reason)
	mockService.AssertExpectations(t)
}

func TestDispatchHandler_BulkDispatch_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing message", `{"recipients":["08123456789"]}`},
		{"no recipients", `{"message":"hi","recipients":[]}`},
		{"blank recipient", `{"message":"hi","recipients":["08123456789",""]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockDispatchService)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/bulk", bytes.NewReader([]byte(tt.body)))
			rr := httptest.NewRecorder()
			newTestRouter(mockService).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			mockService.AssertNotCalled(t, "Submit")
		})
	}
}

func TestDispatchHandler_BulkDispatch_TooManyRecipients(t *testing.T) {
	mockService := new(MockDispatchService)
	many := make([]string, 51)
	for i := range many {
		many[i] = fmt.Sprintf("081234567%02d", i)
	}
	body, _ := json.Marshal(BulkDispatchRequestDTO{Message: "hi", Recipients: many})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/bulk", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	// The validator's max=50 rejects it before the service is reached.
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "Submit")
}

func TestDispatchHandler_BulkDispatch_DomainRejection(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("Submit", mock.Anything, mock.Anything).Return(nil, domain.ErrDuplicateRecipient)

	body, _ := json.Marshal(BulkDispatchRequestDTO{
		Message:    "hi",
		Recipients: []string{"08123456789", "08123456789"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/bulk", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid request")
}

func TestDispatchHandler_ScheduleDispatch_Success(t *testing.T) {
	mockService := new(MockDispatchService)
	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	job := &domain.DispatchJob{
		ID:          "job-2",
		Mode:        domain.ModeScheduled,
		Status:      domain.StatusPending,
		ScheduledAt: &at,
	}
	mockService.On("Submit", mock.Anything, mock.MatchedBy(func(req app.SubmitRequest) bool {
		return req.Mode == domain.ModeScheduled && req.ScheduledAt != nil && req.ScheduledAt.Equal(at)
	})).Return(job, nil)

	body, _ := json.Marshal(ScheduleDispatchRequestDTO{
		Message:     "Clinic closed Friday",
		Recipients:  []string{"08123456789"},
		ScheduledAt: at,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var resDTO ScheduleDispatchResponseDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resDTO))
	assert.Equal(t, "job-2", resDTO.ID)
	assert.Equal(t, "pending", resDTO.Status)
	mockService.AssertExpectations(t)
}

func TestDispatchHandler_ScheduleDispatch_PastTime(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("Submit", mock.Anything, mock.Anything).Return(nil, domain.ErrScheduleInPast)

	body, _ := json.Marshal(ScheduleDispatchRequestDTO{
		Message:     "hi",
		Recipients:  []string{"08123456789"},
		ScheduledAt: time.Now().Add(-time.Hour),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDispatchHandler_ListJobs(t *testing.T) {
	mockService := new(MockDispatchService)
	summaries := []domain.JobSummary{
		{ID: "job-2", Status: domain.StatusPending, RecipientCount: 3},
		{ID: "job-1", Status: domain.StatusSent, RecipientCount: 1, SentCount: 1},
	}
	mockService.On("ListJobs", mock.Anything).Return(summaries, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/jobs", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resDTO ListJobsResponseDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resDTO))
	assert.Equal(t, 2, resDTO.Total)
	require.Len(t, resDTO.Jobs, 2)
	assert.Equal(t, "job-2", resDTO.Jobs[0].ID)
}

func TestDispatchHandler_ListJobs_Empty(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("ListJobs", mock.Anything).Return([]domain.JobSummary(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/jobs", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"jobs":[]`)
}

func TestDispatchHandler_GetJob(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("GetJob", mock.Anything, "job-1").Return(finishedJob(domain.StatusPartial), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/jobs/job-1", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resDTO DispatchJobDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resDTO))
	assert.Equal(t, "job-1", resDTO.ID)
	assert.Len(t, resDTO.Results, 2)
}

func TestDispatchHandler_GetJob_NotFound(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("GetJob", mock.Anything, "missing").Return(nil, domain.ErrJobNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/jobs/missing", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDispatchHandler_CancelJob(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("CancelJob", mock.Anything, "job-2").Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/dispatch/jobs/job-2", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	mockService.AssertExpectations(t)
}

func TestDispatchHandler_CancelJob_Conflict(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("CancelJob", mock.Anything, "job-1").Return(domain.ErrNotCancellable)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/dispatch/jobs/job-1", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "cannot be cancelled")
}

func TestDispatchHandler_CancelJob_NotFound(t *testing.T) {
	mockService := new(MockDispatchService)
	mockService.On("CancelJob", mock.Anything, "missing").Return(domain.ErrJobNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/dispatch/jobs/missing", nil)
	rr := httptest.NewRecorder()
	newTestRouter(mockService).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
