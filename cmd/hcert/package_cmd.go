package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/dccvalidate/pkg/rulecache"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rules"
)

// runPackageCmd implements `hcert package`.
//
// Converts a JSON document into a signed package a Fetcher can serve under
// the resource name given by -kind.
func runPackageCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("package", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyPath  string
		certPath string
		kind     string
		in       string
		out      string
	)
	cmd.StringVar(&keyPath, "key", "key.pem", "Package signing key")
	cmd.StringVar(&certPath, "cert", "cert.pem", "Package signer certificate")
	cmd.StringVar(&kind, "kind", "", "countries | acceptance-rules | invalidation-rules | value-sets (REQUIRED)")
	cmd.StringVar(&in, "in", "", "JSON input (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Output path (default: the kind name)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if kind == "" || in == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --kind and --in are required")
		return 2
	}
	if out == "" {
		out = kind
	}

	data, err := os.ReadFile(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var doc any
	switch kind {
	case rulecache.NameCountries:
		var countries []string
		err = json.Unmarshal(data, &countries)
		doc = countries
	case rulecache.NameAcceptanceRules, rulecache.NameInvalidationRules:
		var rs []rules.Rule
		err = json.Unmarshal(data, &rs)
		doc = rs
	case rulecache.NameValueSets:
		var vs []rules.ValueSet
		err = json.Unmarshal(data, &vs)
		doc = vs
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown kind %q\n", kind)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse %s: %v\n", in, err)
		return 2
	}

	signer, err := loadSigner(keyPath, certPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	pkg, err := rulecache.EncodePackage(doc, signer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(out, pkg, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "%s: %d bytes\n", out, len(pkg))
	return 0
}
