package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evara/internal/model"

	"github.com/rs/zerolog"
)

// TryOnClient calls the external image generator.
type TryOnClient interface {
	Generate(ctx context.Context, req model.TryOnRequest) (*model.TryOnResult, error)
}

type tryOnClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewTryOnClient(baseURL string, timeout time.Duration, logger zerolog.Logger) TryOnClient {
	return &tryOnClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("service", "TryOnClient").Logger(),
	}
}

type generateResponse struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
}

func (c *tryOnClient) Generate(ctx context.Context, tr model.TryOnRequest) (*model.TryOnResult, error) {
	jsonBody, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/generate", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request to try-on generator: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			c.logger.Warn().Err(readErr).Int("status_code", resp.StatusCode).Msg("Failed to read error body from try-on generator")
			return nil, fmt.Errorf("try-on generator returned status %d", resp.StatusCode)
		}

		errorMsg := string(bodyBytes)
		c.logger.Error().
			Int("status_code", resp.StatusCode).
			Str("error_body", errorMsg).
			Str("user_id", tr.UserID).
			Msg("Try-on generator returned error")

		return nil, fmt.Errorf("try-on generator returned status %d: %s", resp.StatusCode, errorMsg)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(gr.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding generated image: %w", err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("try-on generator returned an empty image")
	}

	contentType := gr.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img)
	}
	return &model.TryOnResult{Image: img, ContentType: contentType}, nil
}
