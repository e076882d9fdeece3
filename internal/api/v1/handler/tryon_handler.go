package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"evara/internal/api/v1/dto"
	"evara/internal/middleware"
	"evara/internal/model"
	"evara/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// TryOnHandler serves the virtual try-on endpoints.
type TryOnHandler struct {
	tryOnService service.TryOnService
	limit        int
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewTryOnHandler creates a TryOnHandler. limit is echoed to clients next to the remaining count.
func NewTryOnHandler(tryOnService service.TryOnService, limit int, v *validator.Validate, logger zerolog.Logger) *TryOnHandler {
	return &TryOnHandler{
		tryOnService: tryOnService,
		limit:        limit,
		validate:     v,
		logger:       logger.With().Str("handler", "TryOnHandler").Logger(),
	}
}

// RegisterRoutes mounts v1 try-on routes
func (h *TryOnHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /tryon/quota", authMw(http.HandlerFunc(h.getQuota)))
	mux.Handle("POST /tryon/generations", authMw(http.HandlerFunc(h.createGeneration)))
}

// getQuota godoc
// @Summary Get try-on generation quota
// @Description Returns how many try-on generations remain in the current window.
// @Tags tryon
// @Produce json
// @Success 200 {object} dto.QuotaResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {object} dto.ErrorResponseDTO
// @Router /tryon/quota [get]
func (h *TryOnHandler) getQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	status, err := h.tryOnService.Quota(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.quotaDTO(status))
}

// createGeneration godoc
// @Summary Generate a virtual try-on image
// @Description Checks the caller's generation quota, dispatches the generator and records the attempt.
// @Tags tryon
// @Accept json
// @Produce json
// @Param generation body dto.TryOnGenerateRequest true "Try-on request"
// @Success 200 {object} dto.TryOnGenerateResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {object} dto.ErrorResponseDTO
// @Failure 502 {object} dto.ErrorResponseDTO
// @Failure 503 {object} dto.ErrorResponseDTO
// @Router /tryon/generations [post]
func (h *TryOnHandler) createGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.TryOnGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.tryOnService.Generate(r.Context(), userID, model.TryOnRequest{
		PersonImageURL:  req.PersonImageURL,
		GarmentImageURL: req.GarmentImageURL,
		Category:        req.Category,
	})
	if err != nil {
		h.writeServiceError(w, r, userID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, dto.TryOnGenerateResponseDTO{
		ImageURL:         outcome.ImageURL,
		QuotaResponseDTO: h.quotaDTO(&outcome.Quota),
	})
}

func (h *TryOnHandler) writeServiceError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	requestID := middleware.RequestIDFromContext(r.Context())

	var quotaErr *service.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		retryAfter := quotaErr.Status.RetryAfter(time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
		quota := h.quotaDTO(&quotaErr.Status)
		h.writeJSON(w, http.StatusTooManyRequests, dto.ErrorResponseDTO{
			Error:   "rate_limit_exceeded",
			Message: "Try-on generation limit reached, please wait for the window to reset",
			Quota:   &quota,
		})
	case errors.Is(err, service.ErrStorageUnavailable):
		h.logger.Error().Err(err).Str("user_id", userID).Str("request_id", requestID).Msg("Quota storage unavailable")
		h.writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponseDTO{
			Error:   "service_unavailable",
			Message: "Try-on is temporarily unavailable",
		})
	default:
		h.logger.Error().Err(err).Str("user_id", userID).Str("request_id", requestID).Msg("Try-on generation failed")
		h.writeJSON(w, http.StatusBadGateway, dto.ErrorResponseDTO{
			Error:   "generation_failed",
			Message: "The try-on image could not be generated",
		})
	}
}

func (h *TryOnHandler) quotaDTO(s *model.RateLimitStatus) dto.QuotaResponseDTO {
	return dto.QuotaResponseDTO{
		Allowed:   s.Allowed,
		Remaining: s.Remaining,
		Limit:     h.limit,
		ResetAt:   s.ResetAt,
	}
}

func (h *TryOnHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}
