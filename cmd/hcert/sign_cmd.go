package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
)

// runSignCmd implements `hcert sign`.
//
// Reads a certificate JSON document (DCC field names) and prints the HC1
// credential.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyPath  string
		certPath string
		in       string
		issuer   string
		issuedAt int64
		expires  int64
		ttl      time.Duration
	)
	cmd.StringVar(&keyPath, "key", "key.pem", "Signing key")
	cmd.StringVar(&certPath, "cert", "cert.pem", "Signer certificate (kid source)")
	cmd.StringVar(&in, "in", "", "Certificate JSON document (REQUIRED)")
	cmd.StringVar(&issuer, "issuer", "FR", "Issuer country claim")
	cmd.Int64Var(&issuedAt, "iat", 0, "Issued-at, unix seconds (default now)")
	cmd.Int64Var(&expires, "exp", 0, "Expiry, unix seconds (default iat + ttl)")
	cmd.DurationVar(&ttl, "ttl", 365*24*time.Hour, "Lifetime when -exp is not set")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if in == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --in is required")
		return 2
	}

	data, err := os.ReadFile(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var cert hcert.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse %s: %v\n", in, err)
		return 2
	}
	cert.Name = cert.Name.Standardize()

	signer, err := loadSigner(keyPath, certPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if issuedAt == 0 {
		issuedAt = time.Now().Unix()
	}
	if expires == 0 {
		expires = issuedAt + int64(ttl/time.Second)
	}

	text, err := hcert.Seal(hcert.Header{Issuer: issuer, IssuedAt: issuedAt, ExpiresAt: expires}, &cert, signer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, text)
	return 0
}
