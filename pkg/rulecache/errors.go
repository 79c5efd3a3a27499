package rulecache

import (
	"strings"
)

// ErrorKind classifies a cache failure.
type ErrorKind string

const (
	ErrMissingCache     ErrorKind = "MISSING_CACHE"
	ErrNoNetwork        ErrorKind = "NO_NETWORK"
	ErrClientError      ErrorKind = "CLIENT_ERROR"
	ErrServerError      ErrorKind = "SERVER_ERROR"
	ErrSignatureInvalid ErrorKind = "SIGNATURE_INVALID"
	ErrDecodingFailed   ErrorKind = "DECODING_FAILED"
)

func (k ErrorKind) Error() string {
	return "rulecache: " + strings.ToLower(strings.ReplaceAll(string(k), "_", " "))
}

func (k ErrorKind) Code() string { return "HC1/CACHE/" + string(k) }

// Error reports which cache failed and why.
type Error struct {
	Cache string
	Kind  ErrorKind
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + " (" + e.Cache + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *Error) Code() string { return e.Kind.Code() }
