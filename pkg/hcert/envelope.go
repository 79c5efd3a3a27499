package hcert

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
)

// CWT claim keys (RFC 8392) and the health-certificate claim.
const (
	claimIssuer    int64 = 1
	claimExpiresAt int64 = 4
	claimIssuedAt  int64 = 6
	claimHCert     int64 = -260
	hcertEUDCC     int64 = 1
)

var genericDecMode cbor.DecMode

func init() {
	var err error
	genericDecMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Header carries the envelope's CWT claims and key hints.
type Header struct {
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	KeyID     []byte `json:"kid,omitempty"`
	Algorithm int64  `json:"alg,omitempty"`
}

// Expiration returns ExpiresAt as a time.
func (h Header) Expiration() time.Time { return time.Unix(h.ExpiresAt, 0).UTC() }

// Envelope is a decoded but unverified signed credential.
type Envelope struct {
	Header    Header
	Payload   []byte
	Signature []byte
	Message   *cose.Sign1
}

// DecodeEnvelope parses the COSE_Sign1 message and its CWT claims.
// Claims this package does not know are ignored.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	msg, err := cose.ParseSign1(data)
	if err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}

	claims, err := decodeClaims(msg.Payload)
	if err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}

	h := Header{KeyID: msg.Header.KID, Algorithm: msg.Header.Alg}
	if raw, ok := claims[claimIssuer]; ok {
		if err := cose.Unmarshal(raw, &h.Issuer); err != nil {
			return nil, newError(ErrCBORDecodingFailed, fmt.Errorf("iss: %w", err))
		}
	}
	if h.ExpiresAt, err = numericDate(claims, claimExpiresAt); err != nil {
		return nil, newError(ErrCBORDecodingFailed, fmt.Errorf("exp: %w", err))
	}
	if h.IssuedAt, err = numericDate(claims, claimIssuedAt); err != nil {
		return nil, newError(ErrCBORDecodingFailed, fmt.Errorf("iat: %w", err))
	}

	return &Envelope{
		Header:    h,
		Payload:   msg.Payload,
		Signature: msg.Signature,
		Message:   msg,
	}, nil
}

// DecodeCertificate extracts the certificate from CWT claims, decodes it into
// typed fields and validates it against the DCC schema. Every schema
// violation is reported, not just the first.
func DecodeCertificate(payload []byte) (*Certificate, error) {
	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}
	raw, ok := claims[claimHCert]
	if !ok {
		return nil, newError(ErrCBORDecodingFailed, errors.New("missing hcert claim"))
	}
	var hc map[int64]cbor.RawMessage
	if err := cose.Unmarshal(raw, &hc); err != nil {
		return nil, newError(ErrCBORDecodingFailed, fmt.Errorf("hcert claim: %w", err))
	}
	dgc, ok := hc[hcertEUDCC]
	if !ok {
		return nil, newError(ErrCBORDecodingFailed, errors.New("missing eu_dcc_v1 entry"))
	}

	var cert Certificate
	if err := cose.Unmarshal(dgc, &cert); err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}

	var generic any
	if err := genericDecMode.Unmarshal(dgc, &generic); err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}
	doc, err := json.Marshal(generic)
	if err != nil {
		return nil, newError(ErrCBORDecodingFailed, err)
	}
	violations, err := ValidateSchema(doc)
	if err != nil {
		return nil, newError(ErrSchemaInvalid, err)
	}
	if len(violations) > 0 {
		return nil, &Error{Kind: ErrSchemaInvalid, Violations: violations}
	}
	return &cert, nil
}

// Parse runs the whole decode pipeline on a prefixed credential string.
// The signature is not checked.
func Parse(text string) (*Envelope, *Certificate, error) {
	data, err := Decode(text)
	if err != nil {
		return nil, nil, err
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, nil, err
	}
	cert, err := DecodeCertificate(env.Payload)
	if err != nil {
		return env, nil, err
	}
	return env, cert, nil
}

// Seal signs a certificate and encodes it as a prefixed credential string.
// The key id and algorithm come from signer, not from h.
func Seal(h Header, cert *Certificate, signer cose.Signer) (string, error) {
	claims := map[int64]any{
		claimIssuer:    h.Issuer,
		claimIssuedAt:  h.IssuedAt,
		claimExpiresAt: h.ExpiresAt,
		claimHCert:     map[int64]any{hcertEUDCC: cert},
	}
	payload, err := cose.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	msg, err := cose.Sign(payload, signer)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return Encode(msg)
}

func decodeClaims(payload []byte) (map[int64]cbor.RawMessage, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	var claims map[int64]cbor.RawMessage
	if err := cose.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	return claims, nil
}

// numericDate decodes an integer or floating-point CWT date; absent means 0.
func numericDate(claims map[int64]cbor.RawMessage, key int64) (int64, error) {
	raw, ok := claims[key]
	if !ok {
		return 0, nil
	}
	var i int64
	if err := cose.Unmarshal(raw, &i); err == nil {
		return i, nil
	}
	var f float64
	if err := cose.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return int64(f), nil
}
