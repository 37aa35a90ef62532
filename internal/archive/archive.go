package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	ChartObject   = "chart.png"
	ProgramObject = "program.py"
)

// Archiver stores the artifacts of a successful request.
type Archiver interface {
	Archive(ctx context.Context, requestID string, chart []byte, program string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Archive(context.Context, string, []byte, string) error { return nil }

// S3API is the subset of the S3 client used by the archiver.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archiver writes <prefix>/<request_id>/chart.png and program.py to a bucket.
type S3Archiver struct {
	log    *slog.Logger
	client S3API
	bucket string
	prefix string
}

func NewS3Archiver(log *slog.Logger, client S3API, bucket, prefix string) (*S3Archiver, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &S3Archiver{
		log:    log,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// NewFromConfig builds an S3 client for cfg and wraps it in an archiver. For a
// local MinIO endpoint the bucket is created if it does not exist.
func NewFromConfig(ctx context.Context, log *slog.Logger, cfg *S3Config) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "http://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	a, err := NewS3Archiver(log, client, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if cfg.IsMinIO() && isLocalEndpoint(cfg.Endpoint) {
		if err := a.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *S3Archiver) EnsureBucket(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err == nil {
		return nil
	}
	a.log.Info("archive: creating bucket", "bucket", a.bucket)
	if _, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Key returns the object key for one artifact of a request.
func (a *S3Archiver) Key(requestID, name string) string {
	return path.Join(a.prefix, requestID, name)
}

func (a *S3Archiver) Archive(ctx context.Context, requestID string, chart []byte, program string) error {
	if requestID == "" {
		return errors.New("request id is required")
	}
	objects := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{ChartObject, chart, "image/png"},
		{ProgramObject, []byte(program), "text/x-python; charset=utf-8"},
	}
	for _, obj := range objects {
		key := a.Key(requestID, obj.name)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(obj.body),
			ContentLength: aws.Int64(int64(len(obj.body))),
			ContentType:   aws.String(obj.contentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}
	a.log.Debug("archive: stored artifacts", "request_id", requestID, "bucket", a.bucket, "prefix", a.prefix)
	return nil
}
