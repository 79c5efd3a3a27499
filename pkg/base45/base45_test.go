package base45

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vectors from RFC 9285 §4.
func TestEncode_RFCVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AB", "BB8"},
		{"Hello!!", "%69 VD92EX0"},
		{"base-45", "UJCLQE7W581"},
		{"ietf!", "QED8WEX0"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode([]byte(tt.in)))

			got, err := Decode(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.in, string(got))
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Run("dangling character", func(t *testing.T) {
		_, err := Decode("BB8A")
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("lowercase is outside the alphabet", func(t *testing.T) {
		_, err := Decode("bb8")
		var corrupt CorruptInputError
		require.True(t, errors.As(err, &corrupt))
		assert.Equal(t, CorruptInputError(0), corrupt)
	})

	t.Run("triplet overflow", func(t *testing.T) {
		// ":::" = 44 + 44*45 + 44*2025 = 91124 > 65535
		_, err := Decode(":::")
		assert.Error(t, err)
	})

	t.Run("pair overflow", func(t *testing.T) {
		// "::" = 44 + 44*45 = 2024 > 255
		_, err := Decode("::")
		assert.Error(t, err)
	})
}

func TestRoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Decode(Encode(b)) == b", prop.ForAll(
		func(b []byte) bool {
			got, err := Decode(Encode(b))
			if err != nil {
				return false
			}
			return string(got) == string(b)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("encoded length matches EncodedLen", prop.ForAll(
		func(b []byte) bool {
			return len(Encode(b)) == EncodedLen(len(b))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
