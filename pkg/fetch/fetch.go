// Package fetch defines the conditional-fetch primitive the rule caches
// consume, plus adapters for HTTP, S3, GCS and in-memory sources.
//
// Adapters perform a single attempt. Retry policy, if any, belongs to the
// caller.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotModified means the resource still matches the supplied ETag.
	ErrNotModified = errors.New("fetch: not modified")
	// ErrTransport means the request could not be completed.
	ErrTransport = errors.New("fetch: transport error")
	// ErrNoResponse means the request completed without a usable body.
	ErrNoResponse = errors.New("fetch: no response")
)

// Response is a fresh resource body and its validator.
type Response struct {
	Body []byte
	ETag string
}

// Fetcher retrieves a resource, sending eTag as a precondition when set.
type Fetcher interface {
	Fetch(ctx context.Context, resource, eTag string) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, resource, eTag string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, resource, eTag string) (*Response, error) {
	return f(ctx, resource, eTag)
}

// StatusError carries a non-success status from the source.
type StatusError struct {
	Resource string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d %s", e.Resource, e.Code, http.StatusText(e.Code))
}

// ClientError reports a 4xx status.
func (e *StatusError) ClientError() bool { return e.Code >= 400 && e.Code < 500 }

func transportError(resource string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, resource, err)
}
