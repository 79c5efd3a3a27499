// Package rules models DCC business rules and value sets and evaluates them
// against a decoded certificate.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gowebpki/jcs"
)

// Type partitions rules into acceptance and invalidation sets.
type Type string

const (
	TypeAcceptance   Type = "Acceptance"
	TypeInvalidation Type = "Invalidation"
)

// CertificateType restricts the certificates a rule applies to.
type CertificateType string

const (
	CertificateGeneral     CertificateType = "General"
	CertificateVaccination CertificateType = "Vaccination"
	CertificateTest        CertificateType = "Test"
	CertificateRecovery    CertificateType = "Recovery"
)

// Engine names.
const (
	EngineCertLogic = "CERTLOGIC"
	EngineCEL       = "CEL"
)

type Description struct {
	Lang string `json:"lang"`
	Desc string `json:"desc"`
}

// Rule is a published business rule. Field names match the DCC rule JSON
// schema so packages can be decoded from either JSON or CBOR.
type Rule struct {
	Identifier      string          `json:"Identifier"`
	Type            Type            `json:"Type"`
	Country         string          `json:"Country"`
	Region          string          `json:"Region,omitempty"`
	Version         string          `json:"Version"`
	SchemaVersion   string          `json:"SchemaVersion"`
	Engine          string          `json:"Engine"`
	EngineVersion   string          `json:"EngineVersion"`
	CertificateType CertificateType `json:"CertificateType"`
	Description     []Description   `json:"Description"`
	ValidFrom       time.Time       `json:"ValidFrom"`
	ValidTo         time.Time       `json:"ValidTo"`
	AffectedFields  []string        `json:"AffectedFields"`
	Logic           any             `json:"Logic"`
}

// DescriptionFor returns the description in lang, falling back to English
// and then to the first one present.
func (r Rule) DescriptionFor(lang string) string {
	var fallback string
	for i, d := range r.Description {
		switch {
		case strings.EqualFold(d.Lang, lang):
			return d.Desc
		case strings.EqualFold(d.Lang, "en"):
			fallback = d.Desc
		case i == 0 && fallback == "":
			fallback = d.Desc
		}
	}
	return fallback
}

// Fingerprint is the hex SHA-256 of the rule's canonical (RFC 8785) JSON.
func (r Rule) Fingerprint() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal rule: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize rule: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ValueSetEntry describes one code of a value set.
type ValueSetEntry struct {
	Display string `json:"display"`
	Lang    string `json:"lang"`
	Active  bool   `json:"active"`
	System  string `json:"system"`
	Version string `json:"version"`
}

// ValueSet is a coded-value translation table, e.g. vaccine products.
type ValueSet struct {
	ID     string                   `json:"valueSetId"`
	Date   string                   `json:"valueSetDate"`
	Values map[string]ValueSetEntry `json:"valueSetValues"`
}

// ValueSetCodes flattens value sets to id -> sorted codes, the shape rules
// see under external.valueSets.
func ValueSetCodes(sets []ValueSet) map[string][]string {
	out := make(map[string][]string, len(sets))
	for _, vs := range sets {
		codes := make([]string, 0, len(vs.Values))
		for code := range vs.Values {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		out[vs.ID] = codes
	}
	return out
}

var packageDecMode cbor.DecMode

func init() {
	var err error
	packageDecMode, err = cbor.DecOptions{
		MaxNestedLevels:  32,
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// DecodeRules decodes a CBOR array of rules. Rule logic is decoded with
// string-keyed maps so engines see the same shapes as for JSON input.
func DecodeRules(data []byte) ([]Rule, error) {
	var out []Rule
	if err := packageDecMode.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return out, nil
}

// DecodeValueSets decodes a CBOR array of value sets.
func DecodeValueSets(data []byte) ([]ValueSet, error) {
	var out []ValueSet
	if err := packageDecMode.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value sets: %w", err)
	}
	return out, nil
}

// DecodeCountries decodes a CBOR array of ISO 3166 alpha-2 codes.
func DecodeCountries(data []byte) ([]string, error) {
	var out []string
	if err := packageDecMode.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode countries: %w", err)
	}
	for i, c := range out {
		out[i] = strings.ToUpper(c)
	}
	return out, nil
}
