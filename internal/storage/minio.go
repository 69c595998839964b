package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/selector"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// listPageSize is the S3 maximum; the server may return fewer keys.
const listPageSize = 1000

// MinIOClient implements listing, download and upload against any
// S3-compatible endpoint using MinIO.
type MinIOClient struct {
	core       *minio.Core
	bucketName string
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "s3.amazonaws.com" or "localhost:9000"
	AccessKey string // empty for anonymous access
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// EnsureBucket creates the bucket when it does not exist. Leave unset for
	// read-only public buckets.
	EnsureBucket bool
}

// NewMinIOClient creates a new MinIO storage client.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	if cfg.EnsureBucket {
		exists, err := core.Client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}

		if !exists {
			if err := core.Client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return &MinIOClient{
		core:       core,
		bucketName: cfg.Bucket,
	}, nil
}

type listOutcome struct {
	result minio.ListBucketV2Result
	err    error
}

// ListPage lists one page of keys under prefix, resuming at continuationToken.
func (m *MinIOClient) ListPage(ctx context.Context, prefix, continuationToken string) (selector.Page, error) {
	if err := ctx.Err(); err != nil {
		return selector.Page{}, err
	}

	// Core.ListObjectsV2 takes no context. Run it aside so cancellation
	// returns immediately; the abandoned request finishes on its own.
	done := make(chan listOutcome, 1)
	go func() {
		result, err := m.core.ListObjectsV2(m.bucketName, prefix, "", continuationToken, "", listPageSize)
		done <- listOutcome{result: result, err: err}
	}()

	var result minio.ListBucketV2Result
	select {
	case <-ctx.Done():
		return selector.Page{}, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return selector.Page{}, fmt.Errorf("failed to list minio objects: %w", out.err)
		}
		result = out.result
	}

	page := selector.Page{Keys: make([]string, 0, len(result.Contents))}
	for _, obj := range result.Contents {
		page.Keys = append(page.Keys, obj.Key)
	}
	if result.IsTruncated {
		page.NextToken = result.NextContinuationToken
	}
	return page, nil
}

// Get opens an object for reading. The caller must close the returned reader.
func (m *MinIOClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.core.Client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get minio object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing object before any bytes are written.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to stat minio object: %w", err)
	}
	return obj, nil
}

// Put stores an object in MinIO. Pass size -1 when the length is unknown.
func (m *MinIOClient) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := m.core.Client.PutObject(ctx, m.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to minio: %w", err)
	}

	return nil
}
