package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
)

type inspection struct {
	KeyID       string             `json:"kid"`
	Algorithm   int64              `json:"alg"`
	Issuer      string             `json:"issuer"`
	IssuedAt    time.Time          `json:"issuedAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	Type        hcert.Type         `json:"type"`
	Certificate *hcert.Certificate `json:"certificate,omitempty"`
	Violations  []hcert.Violation  `json:"violations,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// runInspectCmd implements `hcert inspect`.
//
// Decodes a credential given as an argument or on stdin. The signature is
// not checked. Exit code 1 means the credential did not decode.
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	text, err := credentialArg(cmd.Args(), nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	env, cert, err := hcert.Parse(text)
	var out inspection
	if env != nil {
		out.KeyID = base64.StdEncoding.EncodeToString(env.Header.KeyID)
		out.Algorithm = env.Header.Algorithm
		out.Issuer = env.Header.Issuer
		out.IssuedAt = time.Unix(env.Header.IssuedAt, 0).UTC()
		out.ExpiresAt = env.Header.Expiration()
	}
	if cert != nil {
		out.Certificate = cert
		out.Type = cert.Type()
	}
	if err != nil {
		out.Error = err.Error()
		var herr *hcert.Error
		if errors.As(err, &herr) {
			out.Error = herr.Code()
			out.Violations = herr.Violations
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", encErr)
		return 2
	}
	if err != nil {
		return 1
	}
	return 0
}

// credentialArg takes the first argument, or the first line of stdin when
// there is none.
func credentialArg(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	if stdin == nil {
		stdin = defaultStdin
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no credential given")
	}
	return line, nil
}
