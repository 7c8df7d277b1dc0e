package storage

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/metrics"
)

const keyTimestampLayout = "2006-01-02T15:04:05"

// Config holds object-store settings. Credentials come from the standard
// AWS environment variables.
type Config struct {
	Endpoint string
	Bucket   string
	Region   string
}

// Store uploads visualization artifacts to a single bucket. The bucket is
// provisioned out of band; the store never creates it.
type Store struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger

	// now is swappable in tests for deterministic keys.
	now func() time.Time
}

// New builds the S3 client with adaptive retries (3 attempts) and the
// 5 s connect / 30 s read timeout budget.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object-store bucket is required")
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and other self-hosted endpoints need path-style keys.
			o.UsePathStyle = true
		}
	})

	logger := log.WithComponent("storage")
	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Msg("object-store client initialized")

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
		now:    time.Now,
	}, nil
}

// ObjectKey builds the deterministic artifact key:
// visualizations/{transform_id}/visualization-{ISO8601-UTC-Z}.html
func ObjectKey(transformID int64, ts time.Time) string {
	return fmt.Sprintf("visualizations/%d/visualization-%s.html",
		transformID, ts.UTC().Format(keyTimestampLayout)+"Z")
}

// UploadVisualization uploads the rendered HTML and returns the full
// object key.
func (s *Store) UploadVisualization(ctx context.Context, owner string, transformID, visualizationID int64, html []byte) (string, error) {
	start := s.now()
	timestamp := start.UTC().Format(keyTimestampLayout) + "Z"
	key := ObjectKey(transformID, start)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata: map[string]string{
			"owner":            owner,
			"transform-id":     strconv.FormatInt(transformID, 10),
			"visualization-id": strconv.FormatInt(visualizationID, 10),
			"timestamp":        timestamp,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload visualization to s3://%s/%s: %w", s.bucket, key, err)
	}

	elapsed := time.Since(start)
	metrics.UploadDuration.Observe(elapsed.Seconds())
	s.logger.Info().
		Str("key", key).
		Int("bytes", len(html)).
		Dur("elapsed", elapsed).
		Msg("visualization uploaded")
	return key, nil
}

// PresignURL returns a presigned GET URL for a stored artifact. The key is
// the filename stored by the producer; the full key is reconstructed from
// the transform id.
func (s *Store) PresignURL(ctx context.Context, transformID int64, filename string, expires time.Duration) (string, error) {
	key := fmt.Sprintf("visualizations/%d/%s", transformID, filename)

	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", s.bucket, key, err)
	}
	return req.URL, nil
}

// Delete removes a stored artifact.
func (s *Store) Delete(ctx context.Context, transformID int64, filename string) error {
	key := fmt.Sprintf("visualizations/%d/%s", transformID, filename)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info().Str("key", key).Msg("visualization deleted")
	return nil
}
