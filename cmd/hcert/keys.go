package main

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
	"github.com/Mindburn-Labs/dccvalidate/pkg/trust"
)

// loadSigner pairs a private key with its certificate; the kid is derived
// from the certificate.
func loadSigner(keyPath, certPath string) (cose.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	key, err := trust.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}
	certs, err := loadCertificates(certPath)
	if err != nil {
		return nil, err
	}
	return trust.NewSigner(key, trust.KeyIDFromCertificate(certs[0].Raw))
}

func loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := trust.ParseCertificatesPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return certs, nil
}

func loadKeyRing(paths ...string) (*trust.KeyRing, error) {
	ring := trust.NewKeyRing()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if _, err := ring.AddPEM(data); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return ring, nil
}
