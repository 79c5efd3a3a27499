// Package trust verifies COSE signatures against externally supplied trust
// anchors. Key provisioning and rotation live outside this package; callers
// hand in already-trusted public keys through a KeyProvider.
package trust

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
)

// KeyProvider resolves a key-identifier hint to candidate public keys.
// Several keys may share a kid (it is a truncated hash), so all of them are
// returned and tried in order.
type KeyProvider interface {
	CandidateKeys(kid []byte) []crypto.PublicKey
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(kid []byte) []crypto.PublicKey

// CandidateKeys implements KeyProvider.
func (f KeyProviderFunc) CandidateKeys(kid []byte) []crypto.PublicKey {
	return f(kid)
}

// Verify reports whether msg carries a valid signature by any candidate key
// for its kid. It never returns an error: an unknown kid, an unsupported
// algorithm and a bad signature all yield false.
func Verify(msg *cose.Sign1, keys KeyProvider) bool {
	if msg == nil || keys == nil {
		return false
	}
	tbs, err := msg.SigStructure()
	if err != nil {
		return false
	}
	for _, pub := range keys.CandidateKeys(msg.Header.KID) {
		if err := verifySignature(pub, msg.Header.Alg, tbs, msg.Signature); err == nil {
			return true
		}
	}
	return false
}

// verifySignature verifies a raw COSE signature with the given public key.
// alg 0 means the header carried none; the key type then decides.
func verifySignature(pubKey crypto.PublicKey, alg int64, message, sig []byte) error {
	switch pk := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest, err := ecdsaDigest(pk, alg, message)
		if err != nil {
			return err
		}
		size := (pk.Curve.Params().BitSize + 7) / 8
		if len(sig) != 2*size {
			return fmt.Errorf("ECDSA signature has length %d, want %d", len(sig), 2*size)
		}
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if !ecdsa.Verify(pk, digest, r, s) {
			return fmt.Errorf("ECDSA signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		if alg != 0 && alg != cose.AlgPS256 {
			return fmt.Errorf("algorithm %d not valid for RSA key", alg)
		}
		digest := sha256.Sum256(message)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(pk, crypto.SHA256, digest[:], sig, opts); err != nil {
			return fmt.Errorf("RSA-PSS signature verification failed: %w", err)
		}
		return nil

	case ed25519.PublicKey:
		if alg != 0 && alg != cose.AlgEdDSA {
			return fmt.Errorf("algorithm %d not valid for Ed25519 key", alg)
		}
		if !ed25519.Verify(pk, message, sig) {
			return fmt.Errorf("Ed25519 signature verification failed")
		}
		return nil

	default:
		return fmt.Errorf("unsupported key type: %T", pubKey)
	}
}

func ecdsaDigest(pk *ecdsa.PublicKey, alg int64, message []byte) ([]byte, error) {
	bits := pk.Curve.Params().BitSize
	switch {
	case (alg == cose.AlgES256 || alg == 0) && bits == 256:
		d := sha256.Sum256(message)
		return d[:], nil
	case (alg == cose.AlgES384 || alg == 0) && bits == 384:
		d := sha512.Sum384(message)
		return d[:], nil
	case (alg == cose.AlgES512 || alg == 0) && bits == 521:
		d := sha512.Sum512(message)
		return d[:], nil
	default:
		return nil, fmt.Errorf("algorithm %d not valid for P-%d key", alg, bits)
	}
}
