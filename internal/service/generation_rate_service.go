package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evara/internal/model"
	"evara/internal/repository"

	"github.com/rs/zerolog"
)

const (
	DefaultGenerationLimit  = 10
	DefaultGenerationWindow = 10 * time.Minute
)

var (
	// ErrStorageUnavailable wraps every failure of the quota store. It is
	// neither "allowed" nor "denied".
	ErrStorageUnavailable = errors.New("generation quota storage unavailable")
	ErrInvalidUserID      = errors.New("user id is required")
)

// GenerationRateService enforces a fixed-window generation limit per user.
type GenerationRateService interface {
	// CheckQuota reports whether the user may generate now. It only writes
	// when it finds an expired window, which it resets.
	CheckQuota(ctx context.Context, userID string) (*model.RateLimitStatus, error)
	// RecordGeneration unconditionally counts one generation for the user.
	RecordGeneration(ctx context.Context, userID string) (*model.GenerationQuota, error)
	// TryConsume checks and counts in one atomic store operation. Unlike
	// CheckQuota followed by RecordGeneration, concurrent callers cannot
	// push the user over the limit.
	TryConsume(ctx context.Context, userID string) (*model.RateLimitStatus, error)
	Limit() int
	Window() time.Duration
}

type generationRateService struct {
	repo   repository.GenerationQuotaRepository
	limit  int
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewGenerationRateService creates a GenerationRateService. Non-positive
// limit or window fall back to 10 generations per 10 minutes.
func NewGenerationRateService(repo repository.GenerationQuotaRepository, limit int, window time.Duration, logger zerolog.Logger) GenerationRateService {
	if limit <= 0 {
		limit = DefaultGenerationLimit
	}
	if window <= 0 {
		window = DefaultGenerationWindow
	}
	return &generationRateService{
		repo:   repo,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger.With().Str("service", "GenerationRateService").Logger(),
	}
}

func (s *generationRateService) Limit() int {
	return s.limit
}

func (s *generationRateService) Window() time.Duration {
	return s.window
}

func (s *generationRateService) CheckQuota(ctx context.Context, userID string) (*model.RateLimitStatus, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	now := s.now()

	gq, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch generation quota")
		return nil, storageError(err)
	}
	if gq == nil {
		return s.freshStatus(now), nil
	}

	if gq.Expired(now, s.window) {
		if _, err := s.repo.Reset(ctx, userID, now); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to reset expired generation window")
			return nil, storageError(err)
		}
		s.logger.Debug().Str("user_id", userID).Time("window_start", now).Msg("Generation window reset")
		return s.freshStatus(now), nil
	}

	return s.activeStatus(gq), nil
}

func (s *generationRateService) RecordGeneration(ctx context.Context, userID string) (*model.GenerationQuota, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	gq, err := s.repo.UpsertIncrement(ctx, userID, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record generation")
		return nil, storageError(err)
	}
	return gq, nil
}

func (s *generationRateService) TryConsume(ctx context.Context, userID string) (*model.RateLimitStatus, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	now := s.now()

	gq, consumed, err := s.repo.TryConsume(ctx, userID, now, s.limit, s.window)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to consume generation quota")
		return nil, storageError(err)
	}

	var status *model.RateLimitStatus
	if gq == nil {
		status = s.freshStatus(now)
	} else {
		status = s.activeStatus(gq)
	}
	// Remaining reflects the count after consumption, so the last granted
	// slot reports remaining 0 while still being allowed.
	status.Allowed = consumed
	return status, nil
}

// freshStatus describes a user with no history in the window starting at now.
func (s *generationRateService) freshStatus(now time.Time) *model.RateLimitStatus {
	return &model.RateLimitStatus{
		Allowed:   true,
		Remaining: s.limit,
		ResetAt:   now.Add(s.window),
	}
}

func (s *generationRateService) activeStatus(gq *model.GenerationQuota) *model.RateLimitStatus {
	remaining := max(0, s.limit-gq.GenerationCount)
	return &model.RateLimitStatus{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   gq.WindowStart.Add(s.window),
	}
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
