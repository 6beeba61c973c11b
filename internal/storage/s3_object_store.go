package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3ClientConfig struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string

	// Bucket is the output root namespace all keys are written under.
	Bucket string
}

type S3ObjectStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3ClientConfig
}

var _ ObjectStore = (*S3ObjectStore)(nil)

func NewS3ObjectStore(cfg S3ClientConfig) (*S3ObjectStore, error) {
	client, err := initializeS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return &S3ObjectStore{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
	}, nil
}

func initializeS3Client(cfg S3ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	}), nil
}

// CreateBucket bootstraps the output bucket at process start.
func (s *S3ObjectStore) CreateBucket(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	if err != nil {
		var existErr *types.BucketAlreadyExists
		var ownedErr *types.BucketAlreadyOwnedByYou
		if errors.As(err, &existErr) || errors.As(err, &ownedErr) {
			slog.Info("bucket already exists", "bucket", s.cfg.Bucket)
			return nil
		}

		return fmt.Errorf("failed to create bucket %s: %w", s.cfg.Bucket, err)
	}

	slog.Info("bucket created successfully", "bucket", s.cfg.Bucket)

	return nil
}

// ListKeys returns every key under the given prefix. Used to inspect
// what a worker has already placed, e.g. when resuming a partial job.
func (s *S3ObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s with prefix %s: %w", s.cfg.Bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}

	return keys, nil
}

func (s *S3ObjectStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	slog.Info("object uploaded successfully", "bucket", s.cfg.Bucket, "key", key)

	return nil
}
