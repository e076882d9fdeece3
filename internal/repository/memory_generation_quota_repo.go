package repository

import (
	"context"
	"sync"
	"time"

	"evara/internal/model"
)

// MemoryGenerationQuotaRepo keeps quotas in process memory. It backs local
// development without a database and the service tests.
type MemoryGenerationQuotaRepo struct {
	mu     sync.Mutex
	quotas map[string]model.GenerationQuota
}

var _ GenerationQuotaRepository = (*MemoryGenerationQuotaRepo)(nil)

// NewMemoryGenerationQuotaRepo creates an empty in-memory GenerationQuotaRepository.
func NewMemoryGenerationQuotaRepo() *MemoryGenerationQuotaRepo {
	return &MemoryGenerationQuotaRepo{quotas: make(map[string]model.GenerationQuota)}
}

func (r *MemoryGenerationQuotaRepo) FindByUser(ctx context.Context, userID string) (*model.GenerationQuota, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	gq, ok := r.quotas[userID]
	if !ok {
		return nil, nil
	}
	return copyQuota(gq), nil
}

func (r *MemoryGenerationQuotaRepo) UpsertIncrement(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	gq, ok := r.quotas[userID]
	if !ok {
		gq = model.GenerationQuota{UserID: userID, WindowStart: now}
	}
	gq.GenerationCount++
	gq.LastGenerationAt = &now
	r.quotas[userID] = gq
	return copyQuota(gq), nil
}

func (r *MemoryGenerationQuotaRepo) Reset(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	gq, ok := r.quotas[userID]
	if !ok {
		return nil, nil
	}
	gq.GenerationCount = 0
	gq.WindowStart = now
	r.quotas[userID] = gq
	return copyQuota(gq), nil
}

func (r *MemoryGenerationQuotaRepo) TryConsume(ctx context.Context, userID string, now time.Time, limit int, window time.Duration) (*model.GenerationQuota, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	gq, ok := r.quotas[userID]
	switch {
	case !ok:
		gq = model.GenerationQuota{UserID: userID, WindowStart: now}
	case gq.Expired(now, window):
		gq.GenerationCount = 0
		gq.WindowStart = now
	case gq.GenerationCount >= limit:
		return copyQuota(gq), false, nil
	}
	gq.GenerationCount++
	gq.LastGenerationAt = &now
	r.quotas[userID] = gq
	return copyQuota(gq), true, nil
}

func copyQuota(gq model.GenerationQuota) *model.GenerationQuota {
	out := gq
	if gq.LastGenerationAt != nil {
		t := *gq.LastGenerationAt
		out.LastGenerationAt = &t
	}
	return &out
}
