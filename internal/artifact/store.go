// Package artifact keeps raw copies of fetched receipt pages for later diagnosis.
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists an opaque blob and returns where it went.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// NopStore discards everything.
type NopStore struct{}

func (NopStore) Put(context.Context, string, string, []byte) (string, error) { return "", nil }

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO; forces path-style addressing
	AccessKey string
	SecretKey string
}

// objectPutter is the subset of the S3 client used here.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	bucket string
	client objectPutter
	logger *slog.Logger
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{bucket: cfg.Bucket, client: client, logger: logger}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.logger.Error("artifact.put.failed", "bucket", s.bucket, "key", key, "error", err)
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info("artifact.put.ok",
		"bucket", s.bucket, "key", key,
		"bytes", len(body), "elapsed_ms", time.Since(start).Milliseconds(),
	)
	return "s3://" + s.bucket + "/" + key, nil
}

// PageKey derives a content-addressed key for a fetched receipt page.
func PageKey(fetchedAt time.Time, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("receipts/%04d/%02d/%s.html",
		fetchedAt.Year(), int(fetchedAt.Month()), hex.EncodeToString(sum[:]))
}
