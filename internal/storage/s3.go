// Package storage hands out time-bounded download capabilities for stored
// file blobs. Bytes are never proxied through this service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrNotConfigured = errors.New("file storage is not configured")

// Link is a signed URL and the instant it stops working.
type Link struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Signer interface {
	SignedURL(ctx context.Context, key string) (*Link, error)
}

type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewS3Signer(cfg aws.Config, bucket string, ttl time.Duration, log *slog.Logger) *S3Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Signer{
		presign: s3.NewPresignClient(s3.NewFromConfig(cfg)),
		bucket:  bucket,
		ttl:     ttl,
		now:     time.Now,
		log:     log.With("component", "s3_signer"),
	}
}

func (s *S3Signer) SignedURL(ctx context.Context, key string) (*Link, error) {
	if s.bucket == "" {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, fmt.Errorf("empty storage key")
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		s.log.Error("Failed to presign object", "key", key, "error", err)
		return nil, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return &Link{URL: req.URL, ExpiresAt: s.now().Add(s.ttl)}, nil
}
