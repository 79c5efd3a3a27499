// Package cose implements the COSE_Sign1 subset (RFC 9052 §4.2) needed to
// read and produce signed health-certificate envelopes.
//
// Only single-signer messages are supported. Header parameters other than
// alg (1) and kid (4) are preserved as raw bytes but not interpreted.
package cose

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Header labels (RFC 9052 §3.1).
const (
	HeaderAlg int64 = 1
	HeaderKID int64 = 4
)

// Algorithm identifiers (RFC 9053).
const (
	AlgES256 int64 = -7
	AlgEdDSA int64 = -8
	AlgES384 int64 = -35
	AlgES512 int64 = -36
	AlgPS256 int64 = -37
)

const tagSign1 = 18

// ErrMalformed is wrapped by every structural decoding failure.
var ErrMalformed = errors.New("cose: malformed message")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v with the deterministic encoding shared by this module.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v with the module's decoding limits.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Header carries the interpreted header parameters of a message.
type Header struct {
	Alg int64
	KID []byte
}

// Sign1 is a decoded COSE_Sign1 message.
type Sign1 struct {
	// Protected is the serialized protected header exactly as received.
	// It is part of the signed bytes and must not be re-encoded.
	Protected   []byte
	Unprotected map[int64]cbor.RawMessage
	Payload     []byte
	Signature   []byte

	Header Header
}

type sign1Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// ParseSign1 decodes a COSE_Sign1 message, tagged (18) or untagged.
func ParseSign1(data []byte) (*Sign1, error) {
	data = stripTags(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var m sign1Message
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	protected, err := decodeHeaderMap(m.Protected, true)
	if err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", ErrMalformed, err)
	}
	unprotected, err := decodeHeaderMap(m.Unprotected, false)
	if err != nil {
		return nil, fmt.Errorf("%w: unprotected header: %v", ErrMalformed, err)
	}

	msg := &Sign1{
		Protected:   m.Protected,
		Unprotected: unprotected,
		Payload:     m.Payload,
		Signature:   m.Signature,
	}
	msg.Header, err = resolveHeader(protected, unprotected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// SigStructure returns the bytes covered by the signature:
// ["Signature1", protected, external_aad, payload].
func (m *Sign1) SigStructure() ([]byte, error) {
	return SigStructure(m.Protected, m.Payload)
}

// SigStructure builds the Sig_structure for a single-signer message with
// empty external AAD.
func SigStructure(protected, payload []byte) ([]byte, error) {
	if protected == nil {
		protected = []byte{}
	}
	return encMode.Marshal([]any{"Signature1", protected, []byte{}, payload})
}

// stripTags removes a leading CWT (61) and/or COSE_Sign1 (18) tag.
func stripTags(data []byte) []byte {
	if len(data) >= 2 && data[0] == 0xd8 && data[1] == 0x3d {
		data = data[2:]
	}
	if len(data) >= 1 && data[0] == 0xc0|tagSign1 {
		data = data[1:]
	}
	return data
}

// decodeHeaderMap decodes a header map keyed by integer labels. Text labels
// are legal COSE but carry nothing this package interprets, so they are dropped.
func decodeHeaderMap(raw []byte, wrapped bool) (map[int64]cbor.RawMessage, error) {
	out := make(map[int64]cbor.RawMessage)
	if len(raw) == 0 {
		return out, nil
	}

	var generic map[any]cbor.RawMessage
	if err := decMode.Unmarshal(raw, &generic); err != nil {
		if wrapped {
			return nil, fmt.Errorf("not a map: %v", err)
		}
		return nil, err
	}
	for k, v := range generic {
		if label, ok := intLabel(k); ok {
			out[label] = v
		}
	}
	return out, nil
}

func resolveHeader(protected, unprotected map[int64]cbor.RawMessage) (Header, error) {
	var h Header

	raw, ok := protected[HeaderAlg]
	if !ok {
		raw, ok = unprotected[HeaderAlg]
	}
	if ok {
		if err := decMode.Unmarshal(raw, &h.Alg); err != nil {
			return h, fmt.Errorf("alg: %v", err)
		}
	}

	raw, ok = protected[HeaderKID]
	if !ok {
		raw, ok = unprotected[HeaderKID]
	}
	if ok {
		if err := decMode.Unmarshal(raw, &h.KID); err != nil {
			return h, fmt.Errorf("kid: %v", err)
		}
	}
	return h, nil
}

func intLabel(k any) (int64, bool) {
	switch v := k.(type) {
	case int64:
		return v, true
	case uint64:
		if v > 1<<62 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
