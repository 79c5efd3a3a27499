//go:build !gcp

package fetch

import (
	"context"
	"errors"
)

func openGCS(context.Context, string, string) (Fetcher, error) {
	return nil, errors.New("gs:// locations require a build with the gcp tag")
}
