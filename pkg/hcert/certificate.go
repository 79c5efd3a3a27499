package hcert

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Type is the kind of certificate, decided by which entry array is present.
type Type string

const (
	TypeVaccination Type = "Vaccination"
	TypeTest        Type = "Test"
	TypeRecovery    Type = "Recovery"
	TypeUnknown     Type = "Unknown"
)

// Certificate is the decoded EU DCC payload (claim -260, key 1).
// Field names follow the JSON schema so the value round-trips through both
// CBOR and JSON unchanged.
type Certificate struct {
	Version      string        `json:"ver"`
	Name         Name          `json:"nam"`
	DateOfBirth  string        `json:"dob"`
	Vaccinations []Vaccination `json:"v,omitempty"`
	Tests        []Test        `json:"t,omitempty"`
	Recoveries   []Recovery    `json:"r,omitempty"`
}

type Name struct {
	FamilyName             string `json:"fn,omitempty"`
	FamilyNameStandardized string `json:"fnt"`
	GivenName              string `json:"gn,omitempty"`
	GivenNameStandardized  string `json:"gnt,omitempty"`
}

type Vaccination struct {
	Target        string `json:"tg"`
	Vaccine       string `json:"vp"`
	Product       string `json:"mp"`
	Manufacturer  string `json:"ma"`
	DoseNumber    int    `json:"dn"`
	TotalDoses    int    `json:"sd"`
	Date          string `json:"dt"`
	Country       string `json:"co"`
	Issuer        string `json:"is"`
	CertificateID string `json:"ci"`
}

type Test struct {
	Target        string `json:"tg"`
	TestType      string `json:"tt"`
	Name          string `json:"nm,omitempty"`
	Manufacturer  string `json:"ma,omitempty"`
	SampleTime    string `json:"sc"`
	Result        string `json:"tr"`
	TestingCentre string `json:"tc,omitempty"`
	Country       string `json:"co"`
	Issuer        string `json:"is"`
	CertificateID string `json:"ci"`
}

type Recovery struct {
	Target        string `json:"tg"`
	FirstPositive string `json:"fr"`
	Country       string `json:"co"`
	Issuer        string `json:"is"`
	ValidFrom     string `json:"df"`
	ValidUntil    string `json:"du"`
	CertificateID string `json:"ci"`
}

// Entry is the common view of a vaccination, test or recovery statement.
type Entry interface {
	EntryCountry() string
	EntryIssuer() string
	UniqueID() string
}

func (v Vaccination) EntryCountry() string { return v.Country }
func (v Vaccination) EntryIssuer() string  { return v.Issuer }
func (v Vaccination) UniqueID() string     { return v.CertificateID }
func (t Test) EntryCountry() string        { return t.Country }
func (t Test) EntryIssuer() string         { return t.Issuer }
func (t Test) UniqueID() string            { return t.CertificateID }
func (r Recovery) EntryCountry() string    { return r.Country }
func (r Recovery) EntryIssuer() string     { return r.Issuer }
func (r Recovery) UniqueID() string        { return r.CertificateID }

// Type returns the certificate type of the first non-empty entry array.
func (c *Certificate) Type() Type {
	switch {
	case len(c.Vaccinations) > 0:
		return TypeVaccination
	case len(c.Tests) > 0:
		return TypeTest
	case len(c.Recoveries) > 0:
		return TypeRecovery
	default:
		return TypeUnknown
	}
}

// Entry returns the statement rules are evaluated against, or nil when the
// certificate carries none.
func (c *Certificate) Entry() Entry {
	switch c.Type() {
	case TypeVaccination:
		return c.Vaccinations[0]
	case TypeTest:
		return c.Tests[0]
	case TypeRecovery:
		return c.Recoveries[0]
	default:
		return nil
	}
}

// JSON returns the certificate as a generic JSON document, the shape rule
// engines see under "payload".
func (c *Certificate) JSON() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Standardize fills missing machine-readable name fields from the display
// names.
func (n Name) Standardize() Name {
	if n.FamilyNameStandardized == "" {
		n.FamilyNameStandardized = StandardizeName(n.FamilyName)
	}
	if n.GivenNameStandardized == "" && n.GivenName != "" {
		n.GivenNameStandardized = StandardizeName(n.GivenName)
	}
	return n
}

var icaoReplacer = strings.NewReplacer(
	"Ä", "AE", "ä", "AE",
	"Ö", "OE", "ö", "OE",
	"Ü", "UE", "ü", "UE",
	"Å", "AA", "å", "AA",
	"Æ", "AE", "æ", "AE",
	"Ø", "OE", "ø", "OE",
	"ß", "SS",
	"Þ", "TH", "þ", "TH",
)

// StandardizeName transliterates a display name to the ICAO 9303 form:
// A-Z only, separators mapped to '<', other characters dropped.
func StandardizeName(s string) string {
	s = icaoReplacer.Replace(strings.TrimSpace(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(folded) {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '<':
			b.WriteByte('<')
		}
	}
	return b.String()
}
