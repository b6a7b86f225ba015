package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxSourceFileBytes int64 = 20 * 1024 * 1024

// FileStore resolves the text content of file-sourced documents.
type FileStore interface {
	FetchText(ctx context.Context, key string) (string, error)
}

type objectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStoreFromEnv initialises the MinIO/S3 backed file store from
// MINIO_* environment variables. Returns nil when unconfigured; file-sourced
// documents then fail indexing with a content-unavailable error.
func NewObjectStoreFromEnv() (FileStore, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("knowledge: check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("knowledge: bucket %q does not exist", bucket)
	}

	return &objectStore{client: client, bucket: bucket}, nil
}

func (s *objectStore) FetchText(ctx context.Context, key string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("knowledge: object store is not configured")
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("knowledge: object key is empty")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	object, err := s.client.GetObject(fetchCtx, s.bucket, trimmed, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("knowledge: fetch object %q: %w", trimmed, err)
	}
	defer object.Close()

	var buffer bytes.Buffer
	written, err := io.Copy(&buffer, io.LimitReader(object, maxSourceFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("knowledge: read object %q: %w", trimmed, err)
	}
	if written > maxSourceFileBytes {
		return "", fmt.Errorf("knowledge: object %q exceeds %d bytes", trimmed, maxSourceFileBytes)
	}
	return buffer.String(), nil
}
