// Command hcert is developer tooling for health certificates: it creates
// test keys, signed credentials and rule packages, decodes credentials and
// runs a validation against a package server.
package main

import (
	"fmt"
	"io"
	"os"
)

var defaultStdin io.Reader = os.Stdin

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "package":
		return runPackageCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  hcert <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  keygen    Create a P-256 signing key and self-signed certificate")
	_, _ = fmt.Fprintln(w, "  sign      Seal a certificate JSON document into an HC1 credential")
	_, _ = fmt.Fprintln(w, "  package   Build a signed countries, rules or value-set package")
	_, _ = fmt.Fprintln(w, "  inspect   Decode an HC1 credential without verifying it")
	_, _ = fmt.Fprintln(w, "  validate  Validate an HC1 credential against a package server")
}
