package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/runtime-land/land/internal/settings"
)

// S3Store stores artifacts in an S3-compatible bucket. Path-style addressing
// is used so MinIO-style endpoints work unchanged.
type S3Store struct {
	client    *s3.Client
	bucket    string
	directory string
	publicURL string
	endpoint  string
}

// NewS3Store creates an S3 store from settings.
func NewS3Store(ctx context.Context, cfg settings.StorageS3) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage-s3: bucket is required")
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("storage-s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		directory: strings.Trim(cfg.Directory, "/"),
		publicURL: cfg.URL,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.directory == "" {
		return name
	}
	return s.directory + "/" + name
}

// Write stores the bytes under name.
func (s *S3Store) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Read returns the stored bytes.
func (s *S3Store) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Exists reports whether the object is present.
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object.
func (s *S3Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// BuildURL prefers the configured public URL template; otherwise it falls
// back to path-style endpoint addressing.
func (s *S3Store) BuildURL(name string) string {
	key := s.key(name)
	if s.publicURL != "" {
		if strings.Contains(s.publicURL, "{path}") {
			return strings.ReplaceAll(s.publicURL, "{path}", key)
		}
		return strings.TrimRight(s.publicURL, "/") + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
}
