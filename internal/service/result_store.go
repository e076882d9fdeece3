package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResultStore persists generated try-on images and returns a URL the client can load.
type ResultStore interface {
	Save(ctx context.Context, userID string, img []byte, contentType string) (string, error)
}

type s3ResultStore struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	logger        zerolog.Logger
}

// NewS3ResultStore stores images in bucketName and hands out presigned GET URLs.
func NewS3ResultStore(s3Client *s3.Client, bucketName string, logger zerolog.Logger) ResultStore {
	return &s3ResultStore{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
		logger:        logger.With().Str("service", "ResultStore").Logger(),
	}
}

func (s *s3ResultStore) Save(ctx context.Context, userID string, img []byte, contentType string) (string, error) {
	objectKey := resultObjectKey(userID, contentType)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(img),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("Failed to upload try-on result")
		return "", fmt.Errorf("failed to upload try-on result: %w", err)
	}

	resp, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("Failed to generate presigned URL")
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return resp.URL, nil
}

func resultObjectKey(userID, contentType string) string {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("tryon/%s/%s%s", userID, uuid.NewString(), ext)
}

type inlineResultStore struct{}

// NewInlineResultStore returns images as data URLs; used when no bucket is configured.
func NewInlineResultStore() ResultStore {
	return inlineResultStore{}
}

func (inlineResultStore) Save(_ context.Context, _ string, img []byte, contentType string) (string, error) {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img), nil
}
