package model

import "time"

// TryOnRequest is what the generator needs to dress a person in a garment.
type TryOnRequest struct {
	UserID          string `json:"user_id"`
	PersonImageURL  string `json:"person_image_url"`
	GarmentImageURL string `json:"garment_image_url"`
	Category        string `json:"category"`
}

// TryOnResult is the raw image returned by the generator.
type TryOnResult struct {
	Image       []byte
	ContentType string
}

// TryOnOutcome is returned to the client after a successful generation.
type TryOnOutcome struct {
	ImageURL string
	Quota    RateLimitStatus
}

// GenerationEvent is published after each recorded generation.
type GenerationEvent struct {
	EventID         string    `json:"event_id"`
	UserID          string    `json:"user_id"`
	GenerationCount int       `json:"generation_count"`
	WindowStart     time.Time `json:"window_start"`
	OccurredAt      time.Time `json:"occurred_at"`
}
