package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Open picks an adapter from the location's scheme: http(s) URLs use
// HTTPFetcher, s3://bucket/prefix uses S3Fetcher and gs://bucket/prefix
// uses GCSFetcher (builds with the gcp tag only). cfg applies to HTTP.
func Open(ctx context.Context, location string, cfg HTTPConfig) (Fetcher, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch location: %w", err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	switch u.Scheme {
	case "http", "https":
		cfg.BaseURL = location
		return NewHTTPFetcher(cfg)
	case "s3":
		return NewS3Fetcher(ctx, S3Config{
			Bucket:   u.Host,
			Prefix:   prefix,
			Region:   u.Query().Get("region"),
			Endpoint: u.Query().Get("endpoint"),
		})
	case "gs":
		return openGCS(ctx, u.Host, prefix)
	default:
		return nil, fmt.Errorf("unsupported fetch location scheme %q", u.Scheme)
	}
}
