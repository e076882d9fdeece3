package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"evara/internal/api/v1/dto"
	"evara/internal/middleware"
	"evara/internal/model"
	"evara/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type stubTryOnService struct {
	quota    *model.RateLimitStatus
	outcome  *model.TryOnOutcome
	err      error
	gotUser  string
	gotReq   model.TryOnRequest
	genCalls int
}

func (s *stubTryOnService) Quota(_ context.Context, userID string) (*model.RateLimitStatus, error) {
	s.gotUser = userID
	return s.quota, s.err
}

func (s *stubTryOnService) Generate(_ context.Context, userID string, req model.TryOnRequest) (*model.TryOnOutcome, error) {
	s.gotUser = userID
	s.gotReq = req
	s.genCalls++
	return s.outcome, s.err
}

// fakeAuth stands in for JWT validation and authenticates every request as user-1.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserContextKey, "user-1")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestMux(svc service.TryOnService) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewTryOnHandler(svc, 10, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	h.RegisterRoutes(mux, fakeAuth)
	return mux
}

const validBody = `{"person_image_url":"https://cdn.example.com/p.jpg","garment_image_url":"https://cdn.example.com/g.jpg","category":"dresses"}`

func TestGetQuota(t *testing.T) {
	resetAt := time.Date(2026, 3, 14, 12, 10, 0, 0, time.UTC)
	svc := &stubTryOnService{quota: &model.RateLimitStatus{Allowed: true, Remaining: 7, ResetAt: resetAt}}
	mux := newTestMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tryon/quota", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.QuotaResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Allowed || resp.Remaining != 7 || resp.Limit != 10 || !resp.ResetAt.Equal(resetAt) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if svc.gotUser != "user-1" {
		t.Fatalf("expected user-1 to be passed, got %q", svc.gotUser)
	}
}

func TestCreateGeneration(t *testing.T) {
	svc := &stubTryOnService{outcome: &model.TryOnOutcome{
		ImageURL: "https://bucket.example.com/tryon/user-1/a.png",
		Quota:    model.RateLimitStatus{Allowed: true, Remaining: 9, ResetAt: time.Now().Add(10 * time.Minute)},
	}}
	mux := newTestMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tryon/generations", bytes.NewBufferString(validBody)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.TryOnGenerateResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ImageURL != svc.outcome.ImageURL || resp.Remaining != 9 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if svc.gotReq.Category != "dresses" || svc.gotReq.PersonImageURL != "https://cdn.example.com/p.jpg" {
		t.Fatalf("unexpected request passed to service %+v", svc.gotReq)
	}
}

func TestCreateGenerationValidation(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{`,
		"missing garment":  `{"person_image_url":"https://cdn.example.com/p.jpg","category":"dresses"}`,
		"not a url":        `{"person_image_url":"p.jpg","garment_image_url":"https://cdn.example.com/g.jpg","category":"dresses"}`,
		"unknown category": `{"person_image_url":"https://cdn.example.com/p.jpg","garment_image_url":"https://cdn.example.com/g.jpg","category":"hats"}`,
	}
	for name, body := range cases {
		svc := &stubTryOnService{}
		rec := httptest.NewRecorder()
		newTestMux(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tryon/generations", bytes.NewBufferString(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
		if svc.genCalls != 0 {
			t.Errorf("%s: service must not be called", name)
		}
	}
}

func TestCreateGenerationRateLimited(t *testing.T) {
	resetAt := time.Now().Add(4 * time.Minute)
	svc := &stubTryOnService{err: &service.QuotaExceededError{
		Status: model.RateLimitStatus{Allowed: false, Remaining: 0, ResetAt: resetAt},
	}}
	mux := newTestMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tryon/generations", bytes.NewBufferString(validBody)))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 230 || retryAfter > 240 {
		t.Fatalf("expected Retry-After around 240s, got %q", rec.Header().Get("Retry-After"))
	}
	var resp dto.ErrorResponseDTO
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != "rate_limit_exceeded" || resp.Quota == nil || resp.Quota.Remaining != 0 || resp.Quota.ResetAt.IsZero() {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestStorageUnavailableIsNotRateLimit(t *testing.T) {
	svc := &stubTryOnService{err: fmt.Errorf("%w: %w", service.ErrStorageUnavailable, context.DeadlineExceeded)}
	mux := newTestMux(svc)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/tryon/quota", nil),
		httptest.NewRequest(http.MethodPost, "/tryon/generations", bytes.NewBufferString(validBody)),
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", req.Method, req.URL.Path, rec.Code)
		}
		var resp dto.ErrorResponseDTO
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Error != "service_unavailable" || resp.Quota != nil {
			t.Fatalf("unexpected body %+v", resp)
		}
	}
}

func TestCreateGenerationUpstreamFailure(t *testing.T) {
	svc := &stubTryOnService{err: fmt.Errorf("generating try-on image: %w", fmt.Errorf("try-on generator returned status 500"))}
	rec := httptest.NewRecorder()
	newTestMux(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tryon/generations", bytes.NewBufferString(validBody)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestQuotaMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux(&stubTryOnService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/tryon/quota", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
