// Package validation runs the full check of a health certificate: decode,
// signature, technical validity, then the business rules of the arrival
// country.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
	"github.com/Mindburn-Labs/dccvalidate/pkg/observability"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rulecache"
	"github.com/Mindburn-Labs/dccvalidate/pkg/rules"
	"github.com/Mindburn-Labs/dccvalidate/pkg/trust"
)

// CountryPolicy decides what happens when the arrival country is not in the
// onboarded list.
type CountryPolicy string

const (
	// PolicyNarrow evaluates only acceptance rules that name no country.
	PolicyNarrow CountryPolicy = "narrow"
	// PolicyReject fails with COUNTRY_NOT_ONBOARDED.
	PolicyReject CountryPolicy = "reject"
)

func ParseCountryPolicy(s string) (CountryPolicy, error) {
	switch p := CountryPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyNarrow:
		return PolicyNarrow, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown country policy %q", s)
	}
}

// Request is one validation call.
type Request struct {
	// Credential is the "HC1:" text read from the QR code.
	Credential string
	// Country is the ISO 3166 alpha-2 arrival country.
	Country string
	// Clock is the instant the certificate is validated at. Zero means now.
	Clock time.Time
}

// Report is the outcome of a validation that reached rule evaluation.
type Report struct {
	ID          uuid.UUID          `json:"id"`
	Status      rules.Status       `json:"status"`
	Results     []rules.Result     `json:"results"`
	Certificate *hcert.Certificate `json:"certificate"`
	Header      hcert.Header       `json:"header"`
	Country     string             `json:"country"`
	ValidatedAt time.Time          `json:"validatedAt"`
	// Stale is set when any cache was served from storage after a failed fetch.
	Stale bool `json:"stale,omitempty"`
	// Partial is set when a rule set could not be retrieved. Such a report
	// is never passed.
	Partial bool `json:"partial,omitempty"`
}

// Open returns the results that could not be decided.
func (r *Report) Open() []rules.Result { return r.filter(rules.OutcomeOpen) }

// Failed returns the results that failed.
func (r *Report) Failed() []rules.Result { return r.filter(rules.OutcomeFailed) }

func (r *Report) filter(o rules.Outcome) []rules.Result {
	var out []rules.Result
	for _, res := range r.Results {
		if res.Outcome == o {
			out = append(out, res)
		}
	}
	return out
}

// Config wires a Validator.
type Config struct {
	Caches *rulecache.Set
	// Keys resolve document signer keys by kid.
	Keys          trust.KeyProvider
	Evaluator     *rules.Evaluator
	CountryPolicy CountryPolicy
	Logger        *slog.Logger
	Telemetry     *observability.Provider
	Now           func() time.Time
}

// Validator is safe for concurrent use. Its only shared state is the cache set.
type Validator struct {
	caches    *rulecache.Set
	keys      trust.KeyProvider
	evaluator *rules.Evaluator
	policy    CountryPolicy
	logger    *slog.Logger
	telemetry *observability.Provider
	now       func() time.Time
}

func New(cfg Config) (*Validator, error) {
	if cfg.Caches == nil {
		return nil, errors.New("validation: cache set is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("validation: key provider is required")
	}
	policy, err := ParseCountryPolicy(string(cfg.CountryPolicy))
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	v := &Validator{
		caches:    cfg.Caches,
		keys:      cfg.Keys,
		evaluator: cfg.Evaluator,
		policy:    policy,
		logger:    cfg.Logger,
		telemetry: cfg.Telemetry,
		now:       cfg.Now,
	}
	if v.logger == nil {
		v.logger = slog.Default().With("component", "validation")
	}
	if v.evaluator == nil {
		v.evaluator = rules.NewEvaluator(rules.WithLogger(v.logger))
	}
	if v.telemetry == nil {
		v.telemetry = observability.Disabled()
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Validate checks req.Credential for req.Country at req.Clock.
//
// Decode, signature, expiry and country failures return a nil report and an
// *Error. When one rule set cannot be fetched the report covers the rules
// that were retrieved and is returned together with the fetch error.
func (v *Validator) Validate(ctx context.Context, req Request) (report *Report, err error) {
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	ctx, done := v.telemetry.TrackOperation(ctx, "validate", attribute.String("hcert.country", country))
	defer func() { done(err) }()

	clock := req.Clock
	if clock.IsZero() {
		clock = v.now()
	}

	env, cert, err := hcert.Parse(req.Credential)
	if err != nil {
		return nil, &Error{Kind: ErrDecodingFailed, Err: err}
	}
	if !trust.Verify(env.Message, v.keys) {
		return nil, &Error{Kind: ErrSignatureVerificationFailed}
	}
	if exp := env.Header.Expiration(); clock.After(exp) {
		return nil, &Error{Kind: ErrTechnicalValidationFailed,
			Err: fmt.Errorf("expired at %s", exp.Format(time.RFC3339))}
	}

	f := v.fetchAll(ctx)

	if f.countriesErr != nil {
		return nil, &Error{Kind: ErrCountryFetchFailed, Err: f.countriesErr}
	}
	onboarded := slices.Contains(f.countries.Value, country)
	if !onboarded && v.policy == PolicyReject {
		return nil, &Error{Kind: ErrCountryNotOnboarded, Err: fmt.Errorf("country %q", country)}
	}
	if f.valueSetsErr != nil {
		return nil, &Error{Kind: ErrValueSetsFetchFailed, Err: f.valueSetsErr}
	}

	var ruleset []rules.Rule
	var fetchErrs []error
	if f.acceptanceErr != nil {
		fetchErrs = append(fetchErrs, &Error{Kind: ErrAcceptanceRulesFetchFailed, Err: f.acceptanceErr})
	} else {
		acceptance := f.acceptance.Value
		if !onboarded {
			acceptance = countryAgnostic(acceptance)
		}
		ruleset = append(ruleset, acceptance...)
	}
	if f.invalidationErr != nil {
		fetchErrs = append(fetchErrs, &Error{Kind: ErrInvalidationRulesFetchFailed, Err: f.invalidationErr})
	} else {
		ruleset = append(ruleset, f.invalidation.Value...)
	}

	results := v.evaluator.Evaluate(ruleset, rules.Input{
		Certificate: cert,
		Header:      env.Header,
		Country:     country,
		Clock:       clock,
		ValueSets:   rules.ValueSetCodes(f.valueSets.Value),
	})

	report = &Report{
		ID:          uuid.New(),
		Status:      rules.Aggregate(results),
		Results:     results,
		Certificate: cert,
		Header:      env.Header,
		Country:     country,
		ValidatedAt: clock.UTC(),
		Stale:       f.stale(),
		Partial:     len(fetchErrs) > 0,
	}
	if report.Partial && report.Status == rules.StatusPassed {
		report.Status = rules.StatusOpen
	}

	v.telemetry.RecordValidation(ctx, string(report.Status), attribute.String("hcert.country", country))
	v.logger.InfoContext(ctx, "certificate validated",
		"report", report.ID,
		"status", report.Status,
		"country", country,
		"issuer", env.Header.Issuer,
		"type", cert.Type(),
		"rules", len(results),
		"stale", report.Stale,
		"partial", report.Partial,
	)

	return report, errors.Join(fetchErrs...)
}

type fetched struct {
	countries       rulecache.Snapshot[[]string]
	acceptance      rulecache.Snapshot[[]rules.Rule]
	invalidation    rulecache.Snapshot[[]rules.Rule]
	valueSets       rulecache.Snapshot[[]rules.ValueSet]
	countriesErr    error
	acceptanceErr   error
	invalidationErr error
	valueSetsErr    error
}

func (f *fetched) stale() bool {
	return f.countries.Stale || f.acceptance.Stale || f.invalidation.Stale || f.valueSets.Stale
}

// fetchAll refreshes the four caches concurrently. Every fetch runs to
// completion so each cache is updated regardless of the others.
func (v *Validator) fetchAll(ctx context.Context) *fetched {
	var f fetched
	var g errgroup.Group
	g.Go(func() error {
		f.countries, f.countriesErr = v.caches.Countries.Fetch(ctx)
		return nil
	})
	g.Go(func() error {
		f.acceptance, f.acceptanceErr = v.caches.AcceptanceRules.Fetch(ctx)
		return nil
	})
	g.Go(func() error {
		f.invalidation, f.invalidationErr = v.caches.InvalidationRules.Fetch(ctx)
		return nil
	})
	g.Go(func() error {
		f.valueSets, f.valueSetsErr = v.caches.ValueSets.Fetch(ctx)
		return nil
	})
	_ = g.Wait()

	for name, err := range map[string]error{
		rulecache.NameCountries:         f.countriesErr,
		rulecache.NameAcceptanceRules:   f.acceptanceErr,
		rulecache.NameInvalidationRules: f.invalidationErr,
		rulecache.NameValueSets:         f.valueSetsErr,
	} {
		if err != nil {
			v.logger.WarnContext(ctx, "cache fetch failed", "cache", name, "error", err)
		}
	}
	return &f
}

func countryAgnostic(ruleset []rules.Rule) []rules.Rule {
	var out []rules.Rule
	for _, r := range ruleset {
		if r.Country == "" {
			out = append(out, r)
		}
	}
	return out
}
