package model

import "time"

// GenerationQuota tracks how many try-on generations a user has consumed in
// the current fixed window.
type GenerationQuota struct {
	UserID           string     `db:"user_id" json:"user_id"`
	GenerationCount  int        `db:"generation_count" json:"generation_count"`
	WindowStart      time.Time  `db:"window_start" json:"window_start"`
	LastGenerationAt *time.Time `db:"last_generation_at" json:"last_generation_at,omitempty"`
}

// Expired reports whether the window that began at WindowStart is over at now.
func (q *GenerationQuota) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(q.WindowStart) > window
}

// RateLimitStatus is the answer to "may this user generate right now".
type RateLimitStatus struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter is the time left until ResetAt, never negative.
func (s *RateLimitStatus) RetryAfter(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
