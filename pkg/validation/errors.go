package validation

import (
	"strings"
)

// ErrorKind classifies a validation that could not produce a complete report.
type ErrorKind string

const (
	ErrDecodingFailed               ErrorKind = "DECODING_FAILED"
	ErrSignatureVerificationFailed  ErrorKind = "SIGNATURE_VERIFICATION_FAILED"
	ErrTechnicalValidationFailed    ErrorKind = "TECHNICAL_VALIDATION_FAILED"
	ErrCountryFetchFailed           ErrorKind = "COUNTRY_FETCH_FAILED"
	ErrCountryNotOnboarded          ErrorKind = "COUNTRY_NOT_ONBOARDED"
	ErrAcceptanceRulesFetchFailed   ErrorKind = "ACCEPTANCE_RULES_FETCH_FAILED"
	ErrInvalidationRulesFetchFailed ErrorKind = "INVALIDATION_RULES_FETCH_FAILED"
	ErrValueSetsFetchFailed         ErrorKind = "VALUE_SETS_FETCH_FAILED"
)

func (k ErrorKind) Error() string {
	return "validation: " + strings.ToLower(strings.ReplaceAll(string(k), "_", " "))
}

func (k ErrorKind) Code() string { return "HC1/VALIDATION/" + string(k) }

// Error is the terminal failure of a validation step. Err carries the
// underlying decode, cache or fetch error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *Error) Code() string { return e.Kind.Code() }
