package trust

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publicSigner interface {
	cose.Signer
	Public() crypto.PublicKey
}

func signedMessage(t *testing.T, s cose.Signer, payload []byte) *cose.Sign1 {
	t.Helper()
	data, err := cose.Sign(payload, s)
	require.NoError(t, err)
	msg, err := cose.ParseSign1(data)
	require.NoError(t, err)
	return msg
}

func TestVerify_Algorithms(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ec384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signers := map[string]publicSigner{
		"ES256": NewECDSASigner(ecKey, []byte("ec")),
		"ES384": NewECDSASigner(ec384, []byte("ec384")),
		"PS256": NewRSASigner(rsaKey, []byte("rsa")),
		"EdDSA": NewEd25519Signer(edKey, []byte("ed")),
	}

	for name, s := range signers {
		t.Run(name, func(t *testing.T) {
			ring := NewKeyRing()
			ring.Add(s.KeyID(), s.Public())

			msg := signedMessage(t, s, []byte("payload"))
			assert.True(t, Verify(msg, ring))

			msg.Payload = []byte("tampered")
			assert.False(t, Verify(msg, ring))
		})
	}
}

func TestVerify_UnknownKID(t *testing.T) {
	s, err := GenerateECDSASigner([]byte("known"))
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.Add([]byte("other"), s.Public())

	assert.False(t, Verify(signedMessage(t, s, []byte("p")), ring))
}

func TestVerify_TriesEveryCandidate(t *testing.T) {
	decoy, err := GenerateECDSASigner([]byte("kid"))
	require.NoError(t, err)
	real, err := GenerateECDSASigner([]byte("kid"))
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.Add([]byte("kid"), decoy.Public())
	ring.Add([]byte("kid"), real.Public())

	assert.True(t, Verify(signedMessage(t, real, []byte("p")), ring))
}

func TestVerify_AlgorithmKeyMismatch(t *testing.T) {
	s, err := GenerateECDSASigner([]byte("kid"))
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := signedMessage(t, s, []byte("p"))
	provider := KeyProviderFunc(func([]byte) []crypto.PublicKey {
		return []crypto.PublicKey{edKey.Public()}
	})
	assert.False(t, Verify(msg, provider))
}

func TestVerify_NilInputs(t *testing.T) {
	assert.False(t, Verify(nil, NewKeyRing()))
	assert.False(t, Verify(&cose.Sign1{}, nil))
}

func TestKeyRing_Revoke(t *testing.T) {
	s, err := GenerateECDSASigner([]byte("kid"))
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.Add(s.KeyID(), s.Public())
	require.Equal(t, 1, ring.Len())

	ring.Revoke(s.KeyID())
	assert.Empty(t, ring.CandidateKeys(s.KeyID()))
	assert.False(t, Verify(signedMessage(t, s, []byte("p")), ring))
}

func TestKeyRing_AddCertificate(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "DSC test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	ring := NewKeyRing()
	kid := ring.AddCertificate(cert)
	assert.Len(t, kid, KeyIDLength)
	assert.Equal(t, KeyIDFromCertificate(der), kid)

	msg := signedMessage(t, NewECDSASigner(key, kid), []byte("p"))
	assert.True(t, Verify(msg, ring))
}

func TestNewSigner(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	s, err := NewSigner(ecKey, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, cose.AlgES256, s.Algorithm())

	s, err = NewSigner(edKey, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, cose.AlgEdDSA, s.Algorithm())
	assert.Equal(t, []byte("b"), s.KeyID())
}
