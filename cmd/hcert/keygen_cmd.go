package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/Mindburn-Labs/dccvalidate/pkg/trust"
)

// runKeygenCmd implements `hcert keygen`.
//
// Writes a PKCS #8 key and a self-signed certificate and prints the kid.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyOut   string
		certOut  string
		country  string
		validity time.Duration
	)
	cmd.StringVar(&keyOut, "key", "key.pem", "Private key output path")
	cmd.StringVar(&certOut, "cert", "cert.pem", "Certificate output path")
	cmd.StringVar(&country, "country", "FR", "Certificate subject country")
	cmd.DurationVar(&validity, "validity", 2*365*24*time.Hour, "Certificate validity")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: "DSC " + country, Country: []string{country}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: create certificate: %v\n", err)
		return 2
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := os.WriteFile(keyOut, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(certOut, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "kid: %s\n", base64.StdEncoding.EncodeToString(trust.KeyIDFromCertificate(der)))
	return 0
}
