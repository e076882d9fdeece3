package dto

import "time"

// TryOnGenerateRequest is the body of POST /tryon/generations
type TryOnGenerateRequest struct {
	PersonImageURL  string `json:"person_image_url" validate:"required,url"`
	GarmentImageURL string `json:"garment_image_url" validate:"required,url"`
	Category        string `json:"category" validate:"required,oneof=upper_body lower_body dresses"`
}

// QuotaResponseDTO is the quota state shown to the client for a countdown.
type QuotaResponseDTO struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

type TryOnGenerateResponseDTO struct {
	ImageURL string `json:"image_url"`
	QuotaResponseDTO
}

// ErrorResponseDTO is returned for rate-limit and availability failures.
type ErrorResponseDTO struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Quota   *QuotaResponseDTO `json:"quota,omitempty"`
}
