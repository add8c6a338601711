// Package objectstore wraps the MinIO client the way the teacher
// (manaswiluitel-crash-pipeline) wraps it for writing chunks: a thin
// Store interface over Put/Get/Exists/List, backed by
// github.com/minio/minio-go/v7, with the retry-until-ready dial loop
// the teacher uses for newMinio.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the subset of object-storage operations the pipeline needs.
// Extractor, manifest, and checkpoint code all depend on this interface
// rather than the concrete MinIO client so tests can substitute an
// in-memory fake.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// notExistError marks an error as "object not found" so callers can use
// IsNotExist instead of matching on driver-specific error codes.
type notExistError struct{ err error }

func (e *notExistError) Error() string { return e.err.Error() }
func (e *notExistError) Unwrap() error { return e.err }

// IsNotExist reports whether err represents a missing object or bucket.
func IsNotExist(err error) bool {
	var nee *notExistError
	return errors.As(err, &nee)
}

// MinioStore is the production Store backed by a MinIO client.
type MinioStore struct {
	cli *minio.Client
}

// Config configures how MinioStore dials its backing MinIO/S3 endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// DialRetries bounds the retry-until-ready loop used by NewMinioStore,
	// mirroring the teacher's newMinio behavior of waiting for MinIO to
	// come up in docker-compose before giving up.
	DialRetries int
}

// NewMinioStore dials MinIO, retrying with linear backoff the way the
// teacher's newMinio does, and returns once the client can be
// constructed. It does not verify connectivity — callers should call
// EnsureBucket afterward.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	retries := cfg.DialRetries
	if retries <= 0 {
		retries = 10
	}

	var cli *minio.Client
	var err error
	for i := 0; i < retries; i++ {
		cli, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err == nil {
			return &MinioStore{cli: cli}, nil
		}
		slog.Warn("object store dial failed, retrying", slog.Int("attempt", i+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1+i) * time.Second):
		}
	}
	return nil, fmt.Errorf("object store dial: %w", err)
}

// EnsureBucket creates the bucket if it doesn't already exist, matching
// original_source's EnsureBucketExists / the teacher's MakeBucket-on-miss
// behavior (SPEC_FULL §SUPPLEMENTED FEATURES item 3).
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.cli.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	slog.Info("bucket does not exist, creating", slog.String("bucket", bucket))
	return s.cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.cli.PutObject(ctx, bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.cli.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyErr(err)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.cli.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if IsNotExist(classifyErr(err)) {
			return false, nil
		}
		return false, classifyErr(err)
	}
	return true, nil
}

func (s *MinioStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	for obj := range s.cli.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || strings.Contains(err.Error(), "key does not exist") {
		return &notExistError{err: err}
	}
	return err
}
