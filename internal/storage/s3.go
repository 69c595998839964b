package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/selector"
)

// S3Client implements listing, download and upload using the AWS SDK.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// S3Config holds AWS S3 connection settings.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // host or URL; empty uses the SDK default resolver
	AccessKey    string // empty for anonymous access
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// NewS3Client creates a new S3 storage client. Without an access key requests
// are sent unsigned, which public buckets accept.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// ListPage lists one page of keys under prefix, resuming at continuationToken.
func (c *S3Client) ListPage(ctx context.Context, prefix, continuationToken string) (selector.Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	output, err := c.client.ListObjectsV2(ctx, input)
	if err != nil {
		return selector.Page{}, fmt.Errorf("list objects failed: %w", err)
	}

	page := selector.Page{Keys: make([]string, 0, len(output.Contents))}
	for _, obj := range output.Contents {
		if obj.Key == nil {
			continue
		}
		page.Keys = append(page.Keys, *obj.Key)
	}
	if aws.ToBool(output.IsTruncated) {
		page.NextToken = aws.ToString(output.NextContinuationToken)
	}
	return page, nil
}

// Get opens an object for reading. The caller must close the returned reader.
func (c *S3Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object failed: %w", err)
	}
	return output.Body, nil
}

// Put uploads an object using the multipart upload manager.
func (c *S3Client) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := c.uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("put object failed: %w", err)
	}
	return nil
}
