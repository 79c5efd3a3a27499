package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by S3Fetcher.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds configuration for S3Fetcher.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string // Optional key prefix, e.g. "dcc/"
}

// S3Fetcher reads resources from objects named Prefix+resource.
type S3Fetcher struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Fetcher creates an S3-backed fetcher using the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FetcherWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client S3API, bucket, prefix string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket, prefix: prefix}
}

// Fetch issues a GetObject conditioned on eTag.
func (f *S3Fetcher) Fetch(ctx context.Context, resource, eTag string) (*Response, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.prefix + resource),
	}
	if eTag != "" {
		in.IfNoneMatch = aws.String(eTag)
	}

	out, err := f.client.GetObject(ctx, in)
	if err != nil {
		return nil, classifyS3Error(resource, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(out.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoResponse, resource, err)
	}
	if len(body) == 0 || len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %s: object of %d bytes", ErrNoResponse, resource, len(body))
	}
	return &Response{Body: body, ETag: aws.ToString(out.ETag)}, nil
}

func classifyS3Error(resource string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotModified":
			return ErrNotModified
		case "NoSuchKey", "NotFound":
			return &StatusError{Resource: resource, Code: http.StatusNotFound}
		case "AccessDenied":
			return &StatusError{Resource: resource, Code: http.StatusForbidden}
		}
	}

	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		code := withStatus.HTTPStatusCode()
		if code == http.StatusNotModified {
			return ErrNotModified
		}
		if code >= 400 {
			return &StatusError{Resource: resource, Code: code}
		}
	}
	return transportError(resource, err)
}
