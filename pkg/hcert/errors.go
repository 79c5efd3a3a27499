package hcert

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a decode failure. Kinds are comparable with errors.Is:
//
//	if errors.Is(err, hcert.ErrPrefixInvalid) { ... }
type ErrorKind string

const (
	ErrPrefixInvalid        ErrorKind = "PREFIX_INVALID"
	ErrBase45DecodingFailed ErrorKind = "BASE45_DECODING_FAILED"
	ErrCompressionFailed    ErrorKind = "COMPRESSION_FAILED"
	ErrCBORDecodingFailed   ErrorKind = "CBOR_DECODING_FAILED"
	ErrSchemaInvalid        ErrorKind = "SCHEMA_INVALID"
)

func (k ErrorKind) Error() string { return "hcert: " + strings.ToLower(strings.ReplaceAll(string(k), "_", " ")) }

// Code returns the stable short code shown to users.
func (k ErrorKind) Code() string { return "HC1/DECODE/" + string(k) }

// Violation is a single schema constraint failure.
type Violation struct {
	// Field is a JSON pointer into the certificate payload, e.g. "/v/0/ci".
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Error is returned by every decoding step in this package.
type Error struct {
	Kind       ErrorKind
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if len(e.Violations) > 0 {
		fmt.Fprintf(&b, " (%d violations)", len(e.Violations))
		for _, v := range e.Violations {
			b.WriteString("; ")
			b.WriteString(v.String())
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// Code returns the stable short code for the error's kind.
func (e *Error) Code() string { return e.Kind.Code() }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
