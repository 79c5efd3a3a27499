// Package rulecache keeps the signed rule, value-set and country packages a
// validator depends on, refreshing them with conditional fetches.
//
// Each logical cache is a Resource. A fetch sends the cached ETag; a
// not-modified answer serves the cached package, fresh bytes are verified and
// decoded before they replace the cache, and a transport failure serves the
// cached package marked stale. A package whose signature does not verify
// never reaches the store.
package rulecache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
	"github.com/Mindburn-Labs/dccvalidate/pkg/fetch"
	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
	"github.com/Mindburn-Labs/dccvalidate/pkg/observability"
	"github.com/Mindburn-Labs/dccvalidate/pkg/store"
	"github.com/Mindburn-Labs/dccvalidate/pkg/trust"
)

// Decoder turns a verified package payload into its typed value.
type Decoder[T any] func(payload []byte) (T, error)

// Options are shared by every Resource of a Set.
type Options struct {
	Fetcher fetch.Fetcher
	Store   store.Store
	// Keys verify package signatures.
	Keys      trust.KeyProvider
	Logger    *slog.Logger
	Telemetry *observability.Provider
	Now       func() time.Time
	// Timeout bounds a shared refresh, which outlives callers that give up.
	Timeout time.Duration
}

func (o *Options) defaults() {
	if o.Store == nil {
		o.Store = store.NewMemory()
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "rulecache")
	}
	if o.Telemetry == nil {
		o.Telemetry = observability.Disabled()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// Snapshot is a decoded package together with its cache metadata. Values are
// shared between callers and must not be modified.
type Snapshot[T any] struct {
	Value     T
	ETag      string
	UpdatedAt time.Time
	// Stale is set when the package came from the cache because the fetch
	// could not reach the server.
	Stale bool
}

// Resource is one logical cache.
type Resource[T any] struct {
	name   string
	opts   Options
	decode Decoder[T]
	group  singleflight.Group

	mu      sync.RWMutex
	current *Snapshot[T]
}

// NewResource builds a cache stored and fetched under name.
func NewResource[T any](name string, opts Options, decode Decoder[T]) *Resource[T] {
	opts.defaults()
	opts.Logger = opts.Logger.With("cache", name)
	return &Resource[T]{name: name, opts: opts, decode: decode}
}

func (r *Resource[T]) Name() string { return r.name }

// Current returns the last value Fetch produced, if any.
func (r *Resource[T]) Current() (Snapshot[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Snapshot[T]{}, false
	}
	return *r.current, true
}

// Fetch refreshes the cache. Concurrent calls share one request, which is
// not cancelled with the caller that started it. A caller whose context ends
// first gets the current value marked stale, or NO_NETWORK when there is none.
func (r *Resource[T]) Fetch(ctx context.Context) (Snapshot[T], error) {
	ch := r.group.DoChan(r.name, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.Timeout)
		defer cancel()
		ctx, done := r.opts.Telemetry.TrackOperation(ctx, "cache.fetch",
			attribute.String("hcert.cache", r.name))
		snap, err := r.fetch(ctx)
		done(err)
		return snap, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot[T]{}, res.Err
		}
		return res.Val.(Snapshot[T]), nil
	case <-ctx.Done():
		snap, ok := r.Current()
		if !ok {
			return Snapshot[T]{}, &Error{Cache: r.name, Kind: ErrNoNetwork, Err: ctx.Err()}
		}
		r.opts.Logger.WarnContext(ctx, "fetch abandoned, serving current package", "error", ctx.Err())
		snap.Stale = true
		return snap, nil
	}
}

func (r *Resource[T]) fetch(ctx context.Context) (Snapshot[T], error) {
	cached, err := r.opts.Store.Get(ctx, r.name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.opts.Logger.WarnContext(ctx, "cache store unavailable, fetching unconditionally", "error", err)
		}
		cached = nil
	}

	var etag string
	if cached != nil {
		etag = cached.ETag
	}

	resp, err := r.opts.Fetcher.Fetch(ctx, r.name, etag)
	switch {
	case err == nil:
		return r.refresh(ctx, resp)

	case errors.Is(err, fetch.ErrNotModified):
		if cached == nil {
			return Snapshot[T]{}, &Error{Cache: r.name, Kind: ErrMissingCache}
		}
		r.opts.Logger.DebugContext(ctx, "package not modified", "etag", etag)
		return r.serveCached(cached, false)

	case isTransportFailure(err):
		if cached == nil {
			return Snapshot[T]{}, &Error{Cache: r.name, Kind: ErrNoNetwork, Err: err}
		}
		r.opts.Logger.WarnContext(ctx, "fetch failed, serving cached package",
			"etag", etag, "updated_at", cached.UpdatedAt, "error", err)
		return r.serveCached(cached, true)
	}

	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) && statusErr.ClientError() {
		return Snapshot[T]{}, &Error{Cache: r.name, Kind: ErrClientError, Err: err}
	}
	return Snapshot[T]{}, &Error{Cache: r.name, Kind: ErrServerError, Err: err}
}

func (r *Resource[T]) refresh(ctx context.Context, resp *fetch.Response) (Snapshot[T], error) {
	value, err := r.open(resp.Body)
	if err != nil {
		r.opts.Logger.WarnContext(ctx, "rejected package", "etag", resp.ETag, "error", err)
		return Snapshot[T]{}, err
	}

	entry := store.Entry{Payload: resp.Body, ETag: resp.ETag, UpdatedAt: r.opts.Now().UTC()}
	if err := r.opts.Store.Put(ctx, r.name, entry); err != nil {
		// The verified value is still served; the next fetch will be unconditional.
		r.opts.Logger.ErrorContext(ctx, "failed to persist package", "error", err)
	}

	snap := Snapshot[T]{Value: value, ETag: entry.ETag, UpdatedAt: entry.UpdatedAt}
	r.commit(snap)
	r.opts.Logger.InfoContext(ctx, "package updated", "etag", entry.ETag)
	return snap, nil
}

func (r *Resource[T]) serveCached(cached *store.Entry, stale bool) (Snapshot[T], error) {
	value, err := r.open(cached.Payload)
	if err != nil {
		return Snapshot[T]{}, err
	}
	snap := Snapshot[T]{Value: value, ETag: cached.ETag, UpdatedAt: cached.UpdatedAt, Stale: stale}
	r.commit(snap)
	return snap, nil
}

func (r *Resource[T]) commit(snap Snapshot[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &snap
}

// open inflates, verifies and decodes a stored or received package.
func (r *Resource[T]) open(payload []byte) (T, error) {
	var zero T

	raw, err := hcert.Inflate(payload)
	if err != nil {
		return zero, &Error{Cache: r.name, Kind: ErrDecodingFailed, Err: err}
	}
	msg, err := cose.ParseSign1(raw)
	if err != nil {
		return zero, &Error{Cache: r.name, Kind: ErrDecodingFailed, Err: err}
	}
	if r.opts.Keys == nil || !trust.Verify(msg, r.opts.Keys) {
		return zero, &Error{Cache: r.name, Kind: ErrSignatureInvalid}
	}
	value, err := r.decode(msg.Payload)
	if err != nil {
		return zero, &Error{Cache: r.name, Kind: ErrDecodingFailed, Err: err}
	}
	return value, nil
}

func isTransportFailure(err error) bool {
	return errors.Is(err, fetch.ErrTransport) ||
		errors.Is(err, fetch.ErrNoResponse) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
