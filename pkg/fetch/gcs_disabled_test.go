//go:build !gcp

package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_GCSRequiresTag(t *testing.T) {
	_, err := Open(context.Background(), "gs://dcc-packages/prod", HTTPConfig{})
	assert.ErrorContains(t, err, "gcp tag")
}
