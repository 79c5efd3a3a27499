package trust

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
)

// Signers exist to produce fixtures and signed rule packages in tests and
// tooling. Production signing keys never pass through this module.

// ECDSASigner signs with ES256/ES384/ES512 depending on the curve.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
	kid []byte
}

// NewECDSASigner wraps an existing key.
func NewECDSASigner(key *ecdsa.PrivateKey, kid []byte) *ECDSASigner {
	return &ECDSASigner{key: key, kid: kid}
}

// GenerateECDSASigner creates a fresh P-256 signer.
func GenerateECDSASigner(kid []byte) (*ECDSASigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewECDSASigner(key, kid), nil
}

func (s *ECDSASigner) Algorithm() int64 {
	switch s.key.Curve.Params().BitSize {
	case 384:
		return cose.AlgES384
	case 521:
		return cose.AlgES512
	default:
		return cose.AlgES256
	}
}

func (s *ECDSASigner) KeyID() []byte { return s.kid }

// Public returns the verification key.
func (s *ECDSASigner) Public() crypto.PublicKey { return &s.key.PublicKey }

// Sign returns the raw r||s signature COSE requires.
func (s *ECDSASigner) Sign(message []byte) ([]byte, error) {
	var digest []byte
	switch s.Algorithm() {
	case cose.AlgES384:
		d := sha512.Sum384(message)
		digest = d[:]
	case cose.AlgES512:
		d := sha512.Sum512(message)
		digest = d[:]
	default:
		d := sha256.Sum256(message)
		digest = d[:]
	}

	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest)
	if err != nil {
		return nil, err
	}
	size := (s.key.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	sv.FillBytes(sig[size:])
	return sig, nil
}

// RSASigner signs with PS256.
type RSASigner struct {
	key *rsa.PrivateKey
	kid []byte
}

// NewRSASigner wraps an existing key.
func NewRSASigner(key *rsa.PrivateKey, kid []byte) *RSASigner {
	return &RSASigner{key: key, kid: kid}
}

func (s *RSASigner) Algorithm() int64        { return cose.AlgPS256 }
func (s *RSASigner) KeyID() []byte           { return s.kid }
func (s *RSASigner) Public() crypto.PublicKey { return &s.key.PublicKey }

func (s *RSASigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	return rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], opts)
}

// Ed25519Signer signs with EdDSA.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	kid     []byte
}

// NewEd25519Signer wraps an existing key.
func NewEd25519Signer(priv ed25519.PrivateKey, kid []byte) *Ed25519Signer {
	return &Ed25519Signer{privKey: priv, kid: kid}
}

func (s *Ed25519Signer) Algorithm() int64 { return cose.AlgEdDSA }
func (s *Ed25519Signer) KeyID() []byte    { return s.kid }
func (s *Ed25519Signer) Public() crypto.PublicKey {
	return s.privKey.Public()
}

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.privKey, message), nil
}

// NewSigner picks the signer matching the private key type.
func NewSigner(key crypto.Signer, kid []byte) (cose.Signer, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return NewECDSASigner(k, kid), nil
	case *rsa.PrivateKey:
		return NewRSASigner(k, kid), nil
	case ed25519.PrivateKey:
		return NewEd25519Signer(k, kid), nil
	default:
		return nil, fmt.Errorf("unsupported key type: %T", key)
	}
}

var (
	_ cose.Signer = (*ECDSASigner)(nil)
	_ cose.Signer = (*RSASigner)(nil)
	_ cose.Signer = (*Ed25519Signer)(nil)
)
