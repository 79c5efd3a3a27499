package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
)

// Static serves resources from memory with ETag semantics. It backs tests
// and air-gapped bundles.
type Static struct {
	mu        sync.Mutex
	resources map[string]*Response
	failures  map[string]error
	calls     map[string]int
}

func NewStatic() *Static {
	return &Static{
		resources: make(map[string]*Response),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Set publishes body under resource and returns its ETag.
func (s *Static) Set(resource string, body []byte) string {
	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resource] = &Response{Body: append([]byte(nil), body...), ETag: etag}
	delete(s.failures, resource)
	return etag
}

// Fail makes every fetch of resource return err until the next Set or Heal.
func (s *Static) Fail(resource string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[resource] = err
}

// Heal clears an injected failure.
func (s *Static) Heal(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, resource)
}

// Calls returns how many times resource was fetched.
func (s *Static) Calls(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[resource]
}

func (s *Static) Fetch(ctx context.Context, resource, eTag string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(resource, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[resource]++

	if err, ok := s.failures[resource]; ok {
		return nil, err
	}
	res, ok := s.resources[resource]
	if !ok {
		return nil, &StatusError{Resource: resource, Code: http.StatusNotFound}
	}
	if eTag != "" && eTag == res.ETag {
		return nil, ErrNotModified
	}
	return &Response{Body: append([]byte(nil), res.Body...), ETag: res.ETag}, nil
}
