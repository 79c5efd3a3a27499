package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dccvalidate/pkg/fetch"
	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rulecache"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rules"
	"github.com/Mindburn-Labs/dccvalidate/pkg/trust"
)

const scenarioExp = 1625655530

func vaccinationCertificate() *hcert.Certificate {
	return &hcert.Certificate{
		Version: "1.3.0",
		Name: hcert.Name{
			FamilyName:             "Dupont",
			FamilyNameStandardized: "DUPONT",
			GivenName:              "Jean",
			GivenNameStandardized:  "JEAN",
		},
		DateOfBirth: "1964-08-12",
		Vaccinations: []hcert.Vaccination{{
			Target:        "840539006",
			Vaccine:       "1119349007",
			Product:       "EU/1/20/1528",
			Manufacturer:  "ORG-100030215",
			DoseNumber:    2,
			TotalDoses:    2,
			Date:          "2021-05-29",
			Country:       "FR",
			Issuer:        "CNAM",
			CertificateID: "URN:UVCI:01:FR:W7V2BE46QSBJ#L",
		}},
	}
}

type harness struct {
	dsc       *trust.ECDSASigner
	dscKeys   *trust.KeyRing
	pkgSigner *trust.ECDSASigner
	static    *fetch.Static
	caches    *rulecache.Set
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsc, err := trust.GenerateECDSASigner([]byte("dsc-fr01"))
	require.NoError(t, err)
	pkgSigner, err := trust.GenerateECDSASigner([]byte("pkg-sign"))
	require.NoError(t, err)

	dscKeys := trust.NewKeyRing()
	dscKeys.Add(dsc.KeyID(), dsc.Public())
	pkgKeys := trust.NewKeyRing()
	pkgKeys.Add(pkgSigner.KeyID(), pkgSigner.Public())

	h := &harness{dsc: dsc, dscKeys: dscKeys, pkgSigner: pkgSigner, static: fetch.NewStatic()}
	h.caches = rulecache.NewSet(rulecache.Options{Fetcher: h.static, Keys: pkgKeys})

	h.publish(t, rulecache.NameCountries, []string{"FR", "IT"})
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{})
	h.publish(t, rulecache.NameInvalidationRules, []rules.Rule{})
	h.publish(t, rulecache.NameValueSets, []rules.ValueSet{})
	return h
}

func (h *harness) publish(t *testing.T, name string, v any) {
	t.Helper()
	pkg, err := rulecache.EncodePackage(v, h.pkgSigner)
	require.NoError(t, err)
	h.static.Set(name, pkg)
}

func (h *harness) validator(t *testing.T, policy CountryPolicy) *Validator {
	t.Helper()
	v, err := New(Config{Caches: h.caches, Keys: h.dscKeys, CountryPolicy: policy})
	require.NoError(t, err)
	return v
}

func (h *harness) credential(t *testing.T, signer *trust.ECDSASigner) string {
	t.Helper()
	text, err := hcert.Seal(hcert.Header{Issuer: "FR", IssuedAt: 1620000000, ExpiresAt: scenarioExp},
		vaccinationCertificate(), signer)
	require.NoError(t, err)
	return text
}

func acceptanceRule(id, country string, logic any) rules.Rule {
	return rules.Rule{
		Identifier: id, Type: rules.TypeAcceptance, Country: country, Version: "1.0.0",
		SchemaVersion: "1.0.0", Engine: rules.EngineCertLogic, EngineVersion: "0.7.5",
		CertificateType: rules.CertificateVaccination, Logic: logic,
	}
}

func invalidationRule(id, country string, logic any) rules.Rule {
	r := acceptanceRule(id, country, logic)
	r.Type = rules.TypeInvalidation
	r.CertificateType = rules.CertificateGeneral
	return r
}

var (
	dosesComplete = map[string]any{"===": []any{map[string]any{"var": "payload.v.0.dn"}, 2}}
	missingField  = map[string]any{"var": "payload.v.0.xx"}
	revokedUVCI   = map[string]any{"in": []any{
		map[string]any{"var": "payload.v.0.ci"},
		[]any{"URN:UVCI:01:FR:W7V2BE46QSBJ#L"},
	}}
)

func TestValidate_Scenario(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc),
		Country:    "FR",
		Clock:      time.Unix(0, 0),
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, rules.StatusPassed, report.Status)
	assert.Empty(t, report.Results)
	assert.NotEqual(t, uuid.Nil, report.ID)
	assert.Equal(t, "FR", report.Country)
	assert.Equal(t, int64(scenarioExp), report.Header.ExpiresAt)
	assert.True(t, report.ValidatedAt.Equal(time.Unix(0, 0)))
	assert.Equal(t, hcert.TypeVaccination, report.Certificate.Type())
	assert.False(t, report.Stale)
	assert.False(t, report.Partial)
}

func TestValidate_Expired(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc),
		Country:    "FR",
		Clock:      time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Nil(t, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTechnicalValidationFailed)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "HC1/VALIDATION/TECHNICAL_VALIDATION_FAILED", verr.Code())

	// Nothing past the technical check runs.
	assert.Zero(t, h.static.Calls(rulecache.NameCountries))
}

func TestValidate_ExpirationBoundary(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)
	credential := h.credential(t, h.dsc)

	report, err := v.Validate(context.Background(), Request{
		Credential: credential, Country: "FR", Clock: time.Unix(scenarioExp, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, rules.StatusPassed, report.Status)

	_, err = v.Validate(context.Background(), Request{
		Credential: credential, Country: "FR", Clock: time.Unix(scenarioExp+1, 0),
	})
	assert.ErrorIs(t, err, ErrTechnicalValidationFailed)
}

func TestValidate_DecodeFailure(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)

	_, err := v.Validate(context.Background(), Request{Credential: "HC2:NCFOXN", Country: "FR", Clock: time.Unix(0, 0)})
	assert.ErrorIs(t, err, ErrDecodingFailed)
	assert.ErrorIs(t, err, hcert.ErrPrefixInvalid)

	_, err = v.Validate(context.Background(), Request{Credential: "HC1:%%%", Country: "FR", Clock: time.Unix(0, 0)})
	assert.ErrorIs(t, err, ErrDecodingFailed)
	assert.ErrorIs(t, err, hcert.ErrBase45DecodingFailed)
}

func TestValidate_SignatureFailure(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)

	impostor, err := trust.GenerateECDSASigner(h.dsc.KeyID())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), Request{
		Credential: h.credential(t, impostor), Country: "FR", Clock: time.Unix(0, 0),
	})
	assert.ErrorIs(t, err, ErrSignatureVerificationFailed)
}

func TestValidate_TieBreak(t *testing.T) {
	h := newHarness(t)
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{
		acceptanceRule("VR-FR-0000", "FR", dosesComplete),
		acceptanceRule("VR-FR-0001", "FR", missingField),
	})
	v := h.validator(t, PolicyNarrow)
	req := Request{Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0)}

	report, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusOpen, report.Status)
	require.Len(t, report.Results, 2)
	assert.Equal(t, rules.OutcomePassed, report.Results[0].Outcome)
	require.Len(t, report.Open(), 1)
	assert.Equal(t, "VR-FR-0001", report.Open()[0].Rule.Identifier)

	h.publish(t, rulecache.NameInvalidationRules, []rules.Rule{
		invalidationRule("IR-FR-0001", "FR", revokedUVCI),
	})
	report, err = v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusFailed, report.Status)
	assert.Len(t, report.Results, 3)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "IR-FR-0001", report.Failed()[0].Rule.Identifier)
}

func TestValidate_CacheFailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{acceptanceRule("VR-FR-0000", "FR", dosesComplete)})
	h.static.Fail(rulecache.NameInvalidationRules,
		&fetch.StatusError{Resource: rulecache.NameInvalidationRules, Code: http.StatusServiceUnavailable})
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidationRulesFetchFailed)
	assert.ErrorIs(t, err, rulecache.ErrServerError)
	assert.False(t, errors.Is(err, ErrAcceptanceRulesFetchFailed))

	require.NotNil(t, report)
	assert.True(t, report.Partial)
	assert.Equal(t, rules.StatusOpen, report.Status, "a partial report is never passed")
	require.Len(t, report.Results, 1)
	assert.Equal(t, rules.OutcomePassed, report.Results[0].Outcome)

	acc, ok := h.caches.AcceptanceRules.Current()
	require.True(t, ok)
	assert.NotEmpty(t, acc.ETag)
	countries, ok := h.caches.Countries.Current()
	require.True(t, ok)
	assert.Equal(t, []string{"FR", "IT"}, countries.Value)
	_, ok = h.caches.InvalidationRules.Current()
	assert.False(t, ok)
}

func TestValidate_BothRuleFetchesFail(t *testing.T) {
	h := newHarness(t)
	h.static.Fail(rulecache.NameAcceptanceRules, fmt.Errorf("%w: refused", fetch.ErrTransport))
	h.static.Fail(rulecache.NameInvalidationRules, &fetch.StatusError{Code: http.StatusNotFound})
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0),
	})
	assert.ErrorIs(t, err, ErrAcceptanceRulesFetchFailed)
	assert.ErrorIs(t, err, ErrInvalidationRulesFetchFailed)
	assert.ErrorIs(t, err, rulecache.ErrNoNetwork)
	assert.ErrorIs(t, err, rulecache.ErrClientError)
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
	assert.Equal(t, rules.StatusOpen, report.Status)
}

func TestValidate_StaleCache(t *testing.T) {
	h := newHarness(t)
	v := h.validator(t, PolicyNarrow)
	req := Request{Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0)}

	_, err := v.Validate(context.Background(), req)
	require.NoError(t, err)

	h.static.Fail(rulecache.NameAcceptanceRules, fetch.ErrNoResponse)
	report, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, report.Stale)
	assert.Equal(t, rules.StatusPassed, report.Status)
}

func TestValidate_CountryPolicy(t *testing.T) {
	h := newHarness(t)
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{
		acceptanceRule("GR-XX-0001", "", false),
		acceptanceRule("VR-DE-0001", "DE", true),
	})
	req := Request{Credential: h.credential(t, h.dsc), Country: "de", Clock: time.Unix(0, 0)}

	report, err := h.validator(t, PolicyNarrow).Validate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "GR-XX-0001", report.Results[0].Rule.Identifier)
	assert.Equal(t, rules.StatusFailed, report.Status)

	_, err = h.validator(t, PolicyReject).Validate(context.Background(), req)
	assert.ErrorIs(t, err, ErrCountryNotOnboarded)

	h.publish(t, rulecache.NameCountries, []string{"DE", "FR"})
	report, err = h.validator(t, PolicyReject).Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestValidate_CountryFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.static.Fail(rulecache.NameCountries, fmt.Errorf("%w: timeout", fetch.ErrTransport))
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0),
	})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrCountryFetchFailed)
	assert.ErrorIs(t, err, rulecache.ErrNoNetwork)

	// The other caches were still refreshed.
	_, ok := h.caches.AcceptanceRules.Current()
	assert.True(t, ok)
}

func TestValidate_ValueSetsFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.static.Fail(rulecache.NameValueSets, &fetch.StatusError{Code: http.StatusInternalServerError})
	v := h.validator(t, PolicyNarrow)

	_, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0),
	})
	assert.ErrorIs(t, err, ErrValueSetsFetchFailed)
}

func TestValidate_ValueSetsReachRules(t *testing.T) {
	h := newHarness(t)
	h.publish(t, rulecache.NameValueSets, []rules.ValueSet{{
		ID:     "vaccines-covid-19-names",
		Values: map[string]rules.ValueSetEntry{"EU/1/20/1528": {Display: "Comirnaty", Active: true}},
	}})
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{
		acceptanceRule("VR-FR-0002", "FR", map[string]any{"in": []any{
			map[string]any{"var": "payload.v.0.mp"},
			map[string]any{"var": "external.valueSets.vaccines-covid-19-names"},
		}}),
	})
	v := h.validator(t, PolicyNarrow)

	report, err := v.Validate(context.Background(), Request{
		Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, rules.StatusPassed, report.Status)
}

func TestValidate_Concurrent(t *testing.T) {
	h := newHarness(t)
	h.publish(t, rulecache.NameAcceptanceRules, []rules.Rule{acceptanceRule("VR-FR-0000", "FR", dosesComplete)})
	v := h.validator(t, PolicyNarrow)
	req := Request{Credential: h.credential(t, h.dsc), Country: "FR", Clock: time.Unix(0, 0)}

	var wg sync.WaitGroup
	statuses := make([]rules.Status, 16)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := v.Validate(context.Background(), req)
			if err == nil {
				statuses[i] = report.Status
			}
		}(i)
	}
	wg.Wait()
	for _, s := range statuses {
		assert.Equal(t, rules.StatusPassed, s)
	}
}

func TestNew(t *testing.T) {
	h := newHarness(t)

	_, err := New(Config{Keys: h.dscKeys})
	assert.Error(t, err)
	_, err = New(Config{Caches: h.caches})
	assert.Error(t, err)
	_, err = New(Config{Caches: h.caches, Keys: h.dscKeys, CountryPolicy: "lenient"})
	assert.Error(t, err)
}

func TestParseCountryPolicy(t *testing.T) {
	for in, want := range map[string]CountryPolicy{"": PolicyNarrow, "narrow": PolicyNarrow, " REJECT ": PolicyReject} {
		got, err := ParseCountryPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCountryPolicy("strict")
	assert.Error(t, err)
}
