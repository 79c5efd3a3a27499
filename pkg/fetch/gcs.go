//go:build gcp

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
)

// GCSConfig holds configuration for GCSFetcher.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSFetcher reads resources from Cloud Storage objects named Prefix+resource.
// The object's ETag is compared before downloading, and the download is
// pinned to the generation that was compared.
type GCSFetcher struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSFetcher creates a GCS-backed fetcher using application default credentials.
func NewGCSFetcher(ctx context.Context, cfg GCSConfig) (*GCSFetcher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSFetcher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, resource, eTag string) (*Response, error) {
	obj := f.client.Bucket(f.bucket).Object(f.prefix + resource)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, classifyGCSError(resource, err)
	}
	if eTag != "" && attrs.Etag == eTag {
		return nil, ErrNotModified
	}

	r, err := obj.If(storage.Conditions{GenerationMatch: attrs.Generation}).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError(resource, err)
	}
	defer func() { _ = r.Close() }()

	body, err := io.ReadAll(io.LimitReader(r, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoResponse, resource, err)
	}
	if len(body) == 0 || len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %s: object of %d bytes", ErrNoResponse, resource, len(body))
	}
	return &Response{Body: body, ETag: attrs.Etag}, nil
}

// Close releases the underlying client.
func (f *GCSFetcher) Close() error {
	return f.client.Close()
}

func classifyGCSError(resource string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &StatusError{Resource: resource, Code: http.StatusNotFound}
	}
	return transportError(resource, err)
}

func openGCS(ctx context.Context, bucket, prefix string) (Fetcher, error) {
	return NewGCSFetcher(ctx, GCSConfig{Bucket: bucket, Prefix: prefix})
}
