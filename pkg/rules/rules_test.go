package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
)

var clock = time.Date(2021, 7, 1, 10, 0, 0, 0, time.UTC)

func vaccinationCert() *hcert.Certificate {
	return &hcert.Certificate{
		Version:     "1.3.0",
		Name:        hcert.Name{FamilyNameStandardized: "DOE"},
		DateOfBirth: "1980-01-01",
		Vaccinations: []hcert.Vaccination{{
			Target: "840539006", Vaccine: "1119349007", Product: "EU/1/20/1528",
			Manufacturer: "ORG-100030215", DoseNumber: 2, TotalDoses: 2,
			Date: "2021-05-29", Country: "FR", Issuer: "CNAM", CertificateID: "URN:UVCI:01:FR:ABC#1",
		}},
	}
}

func input() Input {
	return Input{
		Certificate: vaccinationCert(),
		Header:      hcert.Header{Issuer: "FR", IssuedAt: 1620000000, ExpiresAt: 1655000000},
		Country:     "DE",
		Clock:       clock,
		ValueSets:   map[string][]string{"vaccines-covid-19-names": {"EU/1/20/1528", "EU/1/21/1529"}},
	}
}

func rule(id string, typ Type, logic any) Rule {
	return Rule{
		Identifier:      id,
		Type:            typ,
		Country:         "DE",
		Version:         "1.0.0",
		SchemaVersion:   "1.0.0",
		Engine:          EngineCertLogic,
		EngineVersion:   "1.0.0",
		CertificateType: CertificateVaccination,
		ValidFrom:       clock.AddDate(0, -1, 0),
		ValidTo:         clock.AddDate(1, 0, 0),
		Logic:           logic,
	}
}

var (
	doseComplete = map[string]any{">=": []any{
		map[string]any{"var": "payload.v.0.dn"},
		map[string]any{"var": "payload.v.0.sd"},
	}}
	approvedProduct = map[string]any{"in": []any{
		map[string]any{"var": "payload.v.0.mp"},
		map[string]any{"var": "external.valueSets.vaccines-covid-19-names"},
	}}
	fourteenDays = map[string]any{"not-after": []any{
		map[string]any{"plusTime": []any{map[string]any{"var": "payload.v.0.dt"}, 14, "day"}},
		map[string]any{"plusTime": []any{map[string]any{"var": "external.validationClock"}, 0, "day"}},
	}}
)

func TestEvaluate_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want Outcome
	}{
		{"acceptance holds", rule("VR-DE-0001", TypeAcceptance, doseComplete), OutcomePassed},
		{"acceptance in value set", rule("VR-DE-0002", TypeAcceptance, approvedProduct), OutcomePassed},
		{"acceptance date arithmetic", rule("VR-DE-0003", TypeAcceptance, fourteenDays), OutcomePassed},
		{"acceptance does not hold", rule("VR-DE-0004", TypeAcceptance, map[string]any{"===": []any{map[string]any{"var": "payload.v.0.dn"}, 3}}), OutcomeFailed},
		{"invalidation holds", func() Rule {
			r := rule("IR-FR-0001", TypeInvalidation, map[string]any{"===": []any{map[string]any{"extractFromUVCI": []any{map[string]any{"var": "payload.v.0.ci"}, 2}}, "ABC"}})
			r.Country = "FR"
			return r
		}(), OutcomeFailed},
		{"invalidation does not hold", func() Rule {
			r := rule("IR-FR-0002", TypeInvalidation, false)
			r.Country = "FR"
			return r
		}(), OutcomePassed},
		{"missing field is open", rule("TR-DE-0001", TypeAcceptance, map[string]any{"before": []any{map[string]any{"var": "payload.t.0.sc"}, 1}}), OutcomeOpen},
		{"non-boolean result is open", rule("VR-DE-0005", TypeAcceptance, map[string]any{"var": "payload.v.0.dn"}), OutcomeOpen},
		{"unknown engine is open", func() Rule {
			r := rule("VR-DE-0006", TypeAcceptance, true)
			r.Engine = "OPA"
			return r
		}(), OutcomeOpen},
		{"newer schema is open", func() Rule {
			r := rule("VR-DE-0007", TypeAcceptance, true)
			r.SchemaVersion = "1.4.0"
			return r
		}(), OutcomeOpen},
		{"other major schema is open", func() Rule {
			r := rule("VR-DE-0008", TypeAcceptance, true)
			r.SchemaVersion = "2.0.0"
			return r
		}(), OutcomeOpen},
		{"CEL acceptance", func() Rule {
			r := rule("VR-DE-0009", TypeAcceptance, `payload.v[0].dn >= 2.0 && external.countryCode == "DE"`)
			r.Engine = EngineCEL
			return r
		}(), OutcomePassed},
		{"CEL compile error is open", func() Rule {
			r := rule("VR-DE-0010", TypeAcceptance, `payload.v[0].dn >=`)
			r.Engine = EngineCEL
			return r
		}(), OutcomeOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate([]Rule{tt.rule}, input())
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Outcome, results[0].Detail)
			assert.Len(t, results[0].Fingerprint, 64)
			if tt.want == OutcomeOpen {
				assert.NotEmpty(t, results[0].Detail)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	res := func(outcomes ...Outcome) []Result {
		out := make([]Result, len(outcomes))
		for i, o := range outcomes {
			out[i] = Result{Outcome: o}
		}
		return out
	}

	assert.Equal(t, StatusPassed, Aggregate(nil))
	assert.Equal(t, StatusPassed, Aggregate(res(OutcomePassed, OutcomePassed)))
	assert.Equal(t, StatusOpen, Aggregate(res(OutcomePassed, OutcomeOpen)))
	// A failure outranks open results regardless of order.
	assert.Equal(t, StatusFailed, Aggregate(res(OutcomeOpen, OutcomePassed, OutcomeFailed)))
	assert.Equal(t, StatusFailed, Aggregate(res(OutcomeFailed, OutcomeOpen)))
}

func TestTieBreak_FailedAcceptanceBeatsOpen(t *testing.T) {
	ruleset := []Rule{
		rule("VR-DE-0001", TypeAcceptance, doseComplete),
		rule("VR-DE-0002", TypeAcceptance, map[string]any{"var": "payload.t.0.tt"}),
		rule("VR-DE-0003", TypeAcceptance, false),
	}
	results := Evaluate(ruleset, input())
	require.Len(t, results, 3)
	assert.Equal(t, StatusFailed, Aggregate(results))
}

func TestApplicable(t *testing.T) {
	in := input()

	wrongType := rule("TR-DE-0001", TypeAcceptance, true)
	wrongType.CertificateType = CertificateTest
	general := rule("GR-DE-0001", TypeAcceptance, true)
	general.CertificateType = CertificateGeneral
	otherCountry := rule("VR-IT-0001", TypeAcceptance, true)
	otherCountry.Country = "IT"
	agnostic := rule("VR-XX-0001", TypeAcceptance, true)
	agnostic.Country = ""
	expired := rule("VR-DE-0002", TypeAcceptance, true)
	expired.ValidTo = clock.Add(-time.Second)
	future := rule("VR-DE-0003", TypeAcceptance, true)
	future.ValidFrom = clock.Add(time.Second)
	invalidationForArrival := rule("IR-DE-0001", TypeInvalidation, true)
	invalidationForIssuer := rule("IR-FR-0001", TypeInvalidation, true)
	invalidationForIssuer.Country = "FR"

	got := Applicable([]Rule{
		wrongType, general, otherCountry, agnostic, expired, future,
		invalidationForArrival, invalidationForIssuer,
	}, in)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.Identifier
	}
	assert.Equal(t, []string{"GR-DE-0001", "VR-XX-0001", "IR-FR-0001"}, ids)
}

func TestApplicable_ValidityBoundsInclusive(t *testing.T) {
	r := rule("VR-DE-0001", TypeAcceptance, true)
	r.ValidFrom = clock
	r.ValidTo = clock
	assert.Len(t, Applicable([]Rule{r}, input()), 1)
}

func TestApplicable_LatestVersion(t *testing.T) {
	v1 := rule("VR-DE-0001", TypeAcceptance, false)
	v1.Version = "1.0.9"
	v2 := rule("VR-DE-0001", TypeAcceptance, true)
	v2.Version = "1.0.10"
	broken := rule("VR-DE-0001", TypeAcceptance, false)
	broken.Version = "latest"

	got := Applicable([]Rule{v1, broken, v2}, input())
	require.Len(t, got, 1)
	assert.Equal(t, "1.0.10", got[0].Version)
}

func TestEvaluate_NoCertificate(t *testing.T) {
	in := input()
	in.Certificate = nil
	assert.Nil(t, Evaluate([]Rule{rule("VR-DE-0001", TypeAcceptance, true)}, in))
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Name() string { return "MOCK" }

func (m *mockEngine) Evaluate(logic any, data map[string]any) (any, error) {
	args := m.Called(logic, data)
	return args.Get(0), args.Error(1)
}

func TestEvaluator_CustomEngine(t *testing.T) {
	engine := new(mockEngine)
	engine.On("Evaluate", "ok", mock.MatchedBy(func(data map[string]any) bool {
		ext, _ := data["external"].(map[string]any)
		return ext["countryCode"] == "DE" &&
			ext["issuerCountryCode"] == "FR" &&
			ext["validationClock"] == "2021-07-01T10:00:00Z"
	})).Return(true, nil)
	engine.On("Evaluate", "boom", mock.Anything).Return(nil, errors.New("boom"))

	ev := NewEvaluator(WithEngine(engine))

	ok := rule("VR-DE-0001", TypeAcceptance, "ok")
	ok.Engine = "mock"
	boom := rule("VR-DE-0002", TypeAcceptance, "boom")
	boom.Engine = "MOCK"

	results := ev.Evaluate([]Rule{ok, boom}, input())
	require.Len(t, results, 2)
	assert.Equal(t, OutcomePassed, results[0].Outcome)
	assert.Equal(t, OutcomeOpen, results[1].Outcome)
	assert.Equal(t, "boom", results[1].Detail)
	engine.AssertExpectations(t)
}

func TestRule_Fingerprint(t *testing.T) {
	a := rule("VR-DE-0001", TypeAcceptance, doseComplete)
	b := rule("VR-DE-0001", TypeAcceptance, doseComplete)

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	b.Logic = approvedProduct
	fc, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}

func TestRule_DescriptionFor(t *testing.T) {
	r := Rule{Description: []Description{
		{Lang: "de", Desc: "Impfserie vollständig"},
		{Lang: "en", Desc: "Vaccination series complete"},
	}}
	assert.Equal(t, "Impfserie vollständig", r.DescriptionFor("DE"))
	assert.Equal(t, "Vaccination series complete", r.DescriptionFor("fr"))
	assert.Equal(t, "", Rule{}.DescriptionFor("en"))
}

func TestDecodeRules_CBOR(t *testing.T) {
	src := []Rule{rule("VR-DE-0001", TypeAcceptance, doseComplete)}
	data, err := cbor.Marshal(src)
	require.NoError(t, err)

	got, err := DecodeRules(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "VR-DE-0001", got[0].Identifier)
	assert.True(t, src[0].ValidFrom.Equal(got[0].ValidFrom))

	// Logic decodes into string-keyed maps that engines accept.
	results := Evaluate(got, input())
	require.Len(t, results, 1)
	assert.Equal(t, OutcomePassed, results[0].Outcome)

	_, err = DecodeRules([]byte{0xa1})
	assert.Error(t, err)
}

func TestDecodeCountriesAndValueSets(t *testing.T) {
	data, err := cbor.Marshal([]string{"de", "FR"})
	require.NoError(t, err)
	countries, err := DecodeCountries(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"DE", "FR"}, countries)

	data, err = cbor.Marshal([]ValueSet{{
		ID:     "covid-19-lab-result",
		Values: map[string]ValueSetEntry{"260415000": {Display: "Not detected", Active: true}, "260373001": {Display: "Detected", Active: true}},
	}})
	require.NoError(t, err)
	sets, err := DecodeValueSets(data)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"covid-19-lab-result": {"260373001", "260415000"}}, ValueSetCodes(sets))
}
