package cose

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Signer produces raw COSE signatures for a single key.
type Signer interface {
	Algorithm() int64
	KeyID() []byte
	Sign(toBeSigned []byte) ([]byte, error)
}

// Sign builds a tagged COSE_Sign1 message over payload. alg and kid go into
// the protected header.
func Sign(payload []byte, signer Signer) ([]byte, error) {
	hdr := map[int64]any{HeaderAlg: signer.Algorithm()}
	if kid := signer.KeyID(); len(kid) > 0 {
		hdr[HeaderKID] = kid
	}
	protected, err := encMode.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("cose: encode protected header: %w", err)
	}

	tbs, err := SigStructure(protected, payload)
	if err != nil {
		return nil, fmt.Errorf("cose: encode sig structure: %w", err)
	}
	sig, err := signer.Sign(tbs)
	if err != nil {
		return nil, fmt.Errorf("cose: sign: %w", err)
	}

	msg := cbor.Tag{
		Number: tagSign1,
		Content: sign1Message{
			Protected:   protected,
			Unprotected: cbor.RawMessage{0xa0},
			Payload:     payload,
			Signature:   sig,
		},
	}
	return encMode.Marshal(msg)
}
