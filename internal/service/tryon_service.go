package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evara/internal/model"
	"evara/internal/pubsub"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrQuotaExceeded = errors.New("generation quota exceeded")

// QuotaExceededError carries the status a denied caller should display.
type QuotaExceededError struct {
	Status model.RateLimitStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: resets at %s", ErrQuotaExceeded, e.Status.ResetAt.Format(time.RFC3339))
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// TryOnService runs a quota-guarded virtual try-on generation.
type TryOnService interface {
	Quota(ctx context.Context, userID string) (*model.RateLimitStatus, error)
	Generate(ctx context.Context, userID string, req model.TryOnRequest) (*model.TryOnOutcome, error)
}

type tryOnService struct {
	rates     GenerationRateService
	client    TryOnClient
	results   ResultStore
	publisher pubsub.Publisher
	topic     string
	strict    bool
	// storeTimeout bounds each quota store round trip.
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewTryOnService creates a TryOnService. With strict set, the quota slot is
// consumed atomically before dispatch instead of checked first and recorded after.
func NewTryOnService(rates GenerationRateService, client TryOnClient, results ResultStore, publisher pubsub.Publisher, topic string, strict bool, storeTimeout time.Duration, logger zerolog.Logger) TryOnService {
	return &tryOnService{
		rates:        rates,
		client:       client,
		results:      results,
		publisher:    publisher,
		topic:        topic,
		strict:       strict,
		storeTimeout: storeTimeout,
		logger:       logger.With().Str("service", "TryOnService").Logger(),
	}
}

func (s *tryOnService) Quota(ctx context.Context, userID string) (*model.RateLimitStatus, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.rates.CheckQuota(ctx, userID)
}

func (s *tryOnService) Generate(ctx context.Context, userID string, req model.TryOnRequest) (*model.TryOnOutcome, error) {
	req.UserID = userID

	status, err := s.admit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		s.logger.Info().Str("user_id", userID).Time("reset_at", status.ResetAt).Msg("Try-on generation rate limited")
		return nil, &QuotaExceededError{Status: *status}
	}
	if s.strict {
		s.publishGeneration(ctx, &model.GenerationQuota{
			UserID:          userID,
			GenerationCount: s.rates.Limit() - status.Remaining,
			WindowStart:     status.ResetAt.Add(-s.rates.Window()),
		})
	}

	result, genErr := s.client.Generate(ctx, req)

	// An attempted generation counts against the quota whether or not it succeeded.
	if !s.strict {
		gq, err := s.record(ctx, userID)
		if err != nil {
			return nil, err
		}
		status = s.statusAfter(gq)
		s.publishGeneration(ctx, gq)
	}

	if genErr != nil {
		s.logger.Error().Err(genErr).Str("user_id", userID).Msg("Try-on generation failed")
		return nil, fmt.Errorf("generating try-on image: %w", genErr)
	}

	url, err := s.results.Save(ctx, userID, result.Image, result.ContentType)
	if err != nil {
		return nil, err
	}
	// The returned quota answers whether another generation may follow.
	quota := *status
	quota.Allowed = quota.Remaining > 0
	return &model.TryOnOutcome{ImageURL: url, Quota: quota}, nil
}

// admit decides whether the generation may proceed.
func (s *tryOnService) admit(ctx context.Context, userID string) (*model.RateLimitStatus, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if !s.strict {
		return s.rates.CheckQuota(ctx, userID)
	}
	return s.rates.TryConsume(ctx, userID)
}

func (s *tryOnService) record(ctx context.Context, userID string) (*model.GenerationQuota, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.rates.RecordGeneration(ctx, userID)
}

func (s *tryOnService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// statusAfter turns a freshly recorded quota into the status shown to the client.
func (s *tryOnService) statusAfter(gq *model.GenerationQuota) *model.RateLimitStatus {
	remaining := max(0, s.rates.Limit()-gq.GenerationCount)
	return &model.RateLimitStatus{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   gq.WindowStart.Add(s.rates.Window()),
	}
}

func (s *tryOnService) publishGeneration(ctx context.Context, gq *model.GenerationQuota) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	event := model.GenerationEvent{
		EventID:         uuid.NewString(),
		UserID:          gq.UserID,
		GenerationCount: gq.GenerationCount,
		WindowStart:     gq.WindowStart,
		OccurredAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", gq.UserID).Msg("Failed to marshal generation event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("user_id", gq.UserID).Str("topic", s.topic).Msg("Failed to publish generation event")
	}
}
