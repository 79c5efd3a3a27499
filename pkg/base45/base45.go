// Package base45 implements the Base45 data encoding (RFC 9285) used by
// QR-transported health certificates.
//
// Two bytes are encoded as three characters of a 45-symbol alphabet; a
// trailing odd byte is encoded as two characters. The alphabet is the
// QR alphanumeric mode set so encoded data packs densely into QR codes.
package base45

import (
	"errors"
	"fmt"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

// ErrInvalidLength is returned when the input ends in a single dangling character.
var ErrInvalidLength = errors.New("base45: invalid input length")

// CorruptInputError reports an out-of-alphabet character or an overflowing
// group at the given byte offset.
type CorruptInputError int64

func (e CorruptInputError) Error() string {
	return fmt.Sprintf("base45: illegal data at input byte %d", int64(e))
}

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = int8(i)
	}
}

// EncodedLen returns the length in characters of the encoding of n bytes.
func EncodedLen(n int) int {
	return n/2*3 + n%2*2
}

// Encode returns the Base45 encoding of src.
func Encode(src []byte) string {
	var b strings.Builder
	b.Grow(EncodedLen(len(src)))

	for i := 0; i+1 < len(src); i += 2 {
		n := int(src[i])<<8 | int(src[i+1])
		b.WriteByte(alphabet[n%45])
		n /= 45
		b.WriteByte(alphabet[n%45])
		b.WriteByte(alphabet[n/45])
	}
	if len(src)%2 == 1 {
		n := int(src[len(src)-1])
		b.WriteByte(alphabet[n%45])
		b.WriteByte(alphabet[n/45])
	}
	return b.String()
}

// Decode returns the bytes represented by the Base45 string s.
func Decode(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, ErrInvalidLength
	}

	out := make([]byte, 0, len(s)/3*2+len(s)%3/2)
	for i := 0; i < len(s); i += 3 {
		group := 3
		if len(s)-i < 3 {
			group = len(s) - i
		}

		n := 0
		factor := 1
		for j := 0; j < group; j++ {
			v := decodeMap[s[i+j]]
			if v < 0 {
				return nil, CorruptInputError(i + j)
			}
			n += int(v) * factor
			factor *= 45
		}

		if group == 3 {
			if n > 0xFFFF {
				return nil, CorruptInputError(i)
			}
			out = append(out, byte(n>>8), byte(n))
			continue
		}
		if n > 0xFF {
			return nil, CorruptInputError(i)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
