// Package hcert decodes and encodes EU Digital COVID Certificates: the HC1
// text form, the COSE/CWT envelope and the certificate payload.
package hcert

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/Mindburn-Labs/dccvalidate/pkg/base45"
)

// Prefix is the context identifier of an EU DCC version 1 credential.
const Prefix = "HC1:"

// MaxInflatedSize bounds the decompressed envelope.
const MaxInflatedSize = 1 << 20

// Decode strips the prefix, base45-decodes the body and inflates it,
// returning the COSE bytes.
//
// A body starting with 0xd2 or 0x84 is taken to be uncompressed COSE and is
// returned as is. No zlib stream starts with those bytes, so a corrupt body
// that does is reported later as CBOR_DECODING_FAILED, not COMPRESSION_FAILED.
func Decode(text string) ([]byte, error) {
	body, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return nil, newError(ErrPrefixInvalid, nil)
	}

	raw, err := base45.Decode(body)
	if err != nil {
		return nil, newError(ErrBase45DecodingFailed, err)
	}

	// Some issuers skip compression; a bare COSE message starts with tag 18
	// or a 4-element array.
	if len(raw) > 0 && (raw[0] == 0xd2 || raw[0] == 0x84) {
		return raw, nil
	}

	out, err := Inflate(raw)
	if err != nil {
		return nil, newError(ErrCompressionFailed, err)
	}
	return out, nil
}

// Encode deflates data, base45-encodes it and prepends the prefix.
func Encode(data []byte) (string, error) {
	compressed, err := Deflate(data)
	if err != nil {
		return "", newError(ErrCompressionFailed, err)
	}
	return Prefix + base45.Encode(compressed), nil
}

// Inflate decompresses a zlib stream of at most MaxInflatedSize bytes.
func Inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(io.LimitReader(zr, MaxInflatedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxInflatedSize {
		return nil, fmt.Errorf("inflated size exceeds %d bytes", MaxInflatedSize)
	}
	return out, nil
}

// Deflate compresses data at the best compression level.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
