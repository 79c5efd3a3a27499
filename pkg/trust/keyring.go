package trust

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"sync"
)

// KeyIDLength is the kid size used by the EU DCC trust list: the first
// eight bytes of the SHA-256 of the signer certificate.
const KeyIDLength = 8

// KeyIDFromCertificate derives the kid for a DER-encoded signer certificate.
func KeyIDFromCertificate(der []byte) []byte {
	sum := sha256.Sum256(der)
	return sum[:KeyIDLength]
}

// KeyRing is an in-memory KeyProvider. It is safe for concurrent use;
// lookups take a read lock so verification never waits on other readers.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string][]crypto.PublicKey
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string][]crypto.PublicKey)}
}

// Add registers pub under kid. Multiple keys may share a kid.
func (k *KeyRing) Add(kid []byte, pub crypto.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := encodeKID(kid)
	k.keys[id] = append(k.keys[id], pub)
}

// AddCertificate registers the public key of cert under its derived kid.
func (k *KeyRing) AddCertificate(cert *x509.Certificate) []byte {
	kid := KeyIDFromCertificate(cert.Raw)
	k.Add(kid, cert.PublicKey)
	return kid
}

// Revoke removes every key registered under kid.
func (k *KeyRing) Revoke(kid []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, encodeKID(kid))
}

// CandidateKeys implements KeyProvider.
func (k *KeyRing) CandidateKeys(kid []byte) []crypto.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := k.keys[encodeKID(kid)]
	out := make([]crypto.PublicKey, len(keys))
	copy(out, keys)
	return out
}

// Len returns the number of distinct key identifiers.
func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func encodeKID(kid []byte) string {
	return base64.StdEncoding.EncodeToString(kid)
}
