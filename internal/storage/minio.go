package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("songdrop-storage")

// ErrObjectExists is returned when an upload would overwrite an object
var ErrObjectExists = errors.New("object already exists")

// MinioClient wraps MinIO operations with tracing
type MinioClient struct {
	client *minio.Client
}

// NewMinioClient initializes a new MinIO client and makes sure every bucket exists
func NewMinioClient(logger *zap.Logger, endpoint, accessKey, secretKey string, useSSL bool, buckets ...string) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	for _, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		logger.Info("Creating bucket", zap.String("bucket", bucket))
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinioClient{client: client}, nil
}

// Upload stores body under bucket/key and returns the stored path. An
// existing object is never replaced.
func (mc *MinioClient) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType, cacheControl string) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.upload",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	_, err := mc.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		span.RecordError(ErrObjectExists)
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, key, ErrObjectExists)
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		span.RecordError(err)
		return "", fmt.Errorf("failed to stat object: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if cacheControl != "" {
		opts.CacheControl = "max-age=" + cacheControl
	}

	info, err := mc.client.PutObject(ctx, bucket, key, body, size, opts)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return info.Key, nil
}

// Delete removes bucket/key
func (mc *MinioClient) Delete(ctx context.Context, bucket, key string) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	if err := mc.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// PresignedURL returns a time-limited GET URL for bucket/key
func (mc *MinioClient) PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.presign",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	u, err := mc.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}
