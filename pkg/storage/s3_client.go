package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the slice of the S3 API the archive needs.
type S3Client interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// S3Options configures the archive bucket connection. Endpoint is set for
// S3-compatible stores (MinIO, R2) and switches to path-style addressing.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type awsS3Client struct {
	client *s3.Client
}

func NewS3Client(ctx context.Context, opts S3Options) (S3Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &awsS3Client{client: client}, nil
}

func (c *awsS3Client) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	return err
}

// S3Archive is an Uploader that keeps artifacts in a bucket under their CID.
type S3Archive struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Archive(client S3Client, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archive) Name() string { return "s3-archive" }

func (a *S3Archive) Put(ctx context.Context, data []byte) (string, error) {
	hash, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	if err := a.client.Upload(ctx, a.bucket, a.Key(hash), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", hash, err)
	}
	return hash, nil
}

// Key returns the object key for hash.
func (a *S3Archive) Key(hash string) string {
	return fmt.Sprintf("%sreasoning/%s.json", a.prefix, hash)
}
