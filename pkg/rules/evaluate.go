package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
)

// Outcome is the verdict for a single rule.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	OutcomeOpen   Outcome = "open"
)

// Status is the aggregate verdict over a set of results.
type Status string

const (
	StatusPassed Status = "passed"
	StatusOpen   Status = "open"
	StatusFailed Status = "failed"
)

// Result is the outcome of evaluating one rule.
type Result struct {
	Rule        Rule    `json:"rule"`
	Outcome     Outcome `json:"outcome"`
	Detail      string  `json:"detail,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}

// Input is everything a rule may look at.
type Input struct {
	Certificate *hcert.Certificate
	Header      hcert.Header
	// Country is the arrival country acceptance rules are selected for.
	Country   string
	Clock     time.Time
	ValueSets map[string][]string
}

// Evaluator runs rules through their engines.
type Evaluator struct {
	engines map[string]Engine
	logger  *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithEngine registers an engine under its name, replacing any existing one.
func WithEngine(e Engine) Option {
	return func(ev *Evaluator) { ev.engines[strings.ToUpper(e.Name())] = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ev *Evaluator) { ev.logger = l }
}

// NewEvaluator creates an evaluator with the CertLogic and CEL engines.
func NewEvaluator(opts ...Option) *Evaluator {
	ev := &Evaluator{
		engines: map[string]Engine{EngineCertLogic: CertLogicEngine{}},
		logger:  slog.Default().With("component", "rules"),
	}
	if celEngine, err := NewCELEngine(); err == nil {
		ev.engines[EngineCEL] = celEngine
	} else {
		ev.logger.Warn("CEL engine unavailable", "error", err)
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

var defaultEvaluator = NewEvaluator()

// Evaluate runs the applicable rules with the default evaluator.
func Evaluate(ruleset []Rule, in Input) []Result {
	return defaultEvaluator.Evaluate(ruleset, in)
}

// Evaluate selects the rules applicable to in and evaluates each. Rule-level
// problems never fail the call; they produce open results.
func (e *Evaluator) Evaluate(ruleset []Rule, in Input) []Result {
	if in.Certificate == nil {
		return nil
	}
	applicable := Applicable(ruleset, in)
	if len(applicable) == 0 {
		return nil
	}

	data, err := buildContext(in)
	results := make([]Result, 0, len(applicable))
	for _, r := range applicable {
		var res Result
		if err != nil {
			res = Result{Rule: r, Outcome: OutcomeOpen, Detail: err.Error()}
		} else {
			res = e.evaluateRule(r, in.Certificate.Version, data)
		}
		if fp, ferr := r.Fingerprint(); ferr == nil {
			res.Fingerprint = fp
		}
		e.logger.Debug("rule evaluated", "rule", r.Identifier, "version", r.Version, "outcome", res.Outcome)
		results = append(results, res)
	}
	return results
}

func (e *Evaluator) evaluateRule(r Rule, certVersion string, data map[string]any) Result {
	open := func(format string, args ...any) Result {
		return Result{Rule: r, Outcome: OutcomeOpen, Detail: fmt.Sprintf(format, args...)}
	}

	if !schemaCompatible(r.SchemaVersion, certVersion) {
		return open("rule schema version %s is not compatible with certificate version %s", r.SchemaVersion, certVersion)
	}

	engineName := strings.ToUpper(r.Engine)
	if engineName == "" {
		engineName = EngineCertLogic
	}
	engine, ok := e.engines[engineName]
	if !ok {
		return open("unknown engine %q", r.Engine)
	}

	value, err := engine.Evaluate(r.Logic, data)
	if err != nil {
		e.logger.Warn("rule evaluation failed", "rule", r.Identifier, "engine", engineName, "error", err)
		return open("%v", err)
	}
	holds, ok := value.(bool)
	if !ok {
		return open("rule logic returned %T, not a boolean", value)
	}

	outcome := OutcomeFailed
	switch r.Type {
	case TypeInvalidation:
		if !holds {
			outcome = OutcomePassed
		}
	default:
		if holds {
			outcome = OutcomePassed
		}
	}
	return Result{Rule: r, Outcome: outcome}
}

// Aggregate reduces results: any failed -> failed, else any open -> open,
// else passed. No results means passed.
func Aggregate(results []Result) Status {
	status := StatusPassed
	for _, r := range results {
		switch r.Outcome {
		case OutcomeFailed:
			return StatusFailed
		case OutcomeOpen:
			status = StatusOpen
		}
	}
	return status
}

// Applicable filters ruleset to the rules that apply to in: matching
// certificate type, matching country (the arrival country for acceptance
// rules, the issuing country for invalidation rules; an empty rule country
// matches any), validity window containing the clock, and for each
// identifier only the highest version. Output order is by identifier.
func Applicable(ruleset []Rule, in Input) []Rule {
	certType := CertificateType(in.Certificate.Type())
	latest := make(map[string]Rule)
	latestVersion := make(map[string]*semver.Version)

	for _, r := range ruleset {
		if r.CertificateType != "" && r.CertificateType != CertificateGeneral && r.CertificateType != certType {
			continue
		}
		target := in.Country
		if r.Type == TypeInvalidation {
			target = in.Header.Issuer
		}
		if r.Country != "" && !strings.EqualFold(r.Country, target) {
			continue
		}
		if !r.ValidFrom.IsZero() && in.Clock.Before(r.ValidFrom) {
			continue
		}
		if !r.ValidTo.IsZero() && in.Clock.After(r.ValidTo) {
			continue
		}

		v, _ := semver.NewVersion(r.Version)
		key := string(r.Type) + "/" + r.Identifier
		current, seen := latest[key]
		if !seen || newer(v, latestVersion[key], r.Version, current.Version) {
			latest[key] = r
			latestVersion[key] = v
		}
	}

	out := make([]Rule, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// newer reports whether candidate outranks current. Parseable versions beat
// unparseable ones; two unparseable versions compare as strings.
func newer(candidate, current *semver.Version, candidateRaw, currentRaw string) bool {
	switch {
	case candidate != nil && current != nil:
		return candidate.GreaterThan(current)
	case candidate != nil:
		return true
	case current != nil:
		return false
	default:
		return candidateRaw > currentRaw
	}
}

// schemaCompatible requires equal major versions and a rule schema no newer
// than the certificate's. An empty rule schema version is always compatible.
func schemaCompatible(ruleVersion, certVersion string) bool {
	if ruleVersion == "" {
		return true
	}
	rv, err := semver.NewVersion(ruleVersion)
	if err != nil {
		return false
	}
	cv, err := semver.NewVersion(certVersion)
	if err != nil {
		return false
	}
	return rv.Major() == cv.Major() && !rv.GreaterThan(cv)
}

func buildContext(in Input) (map[string]any, error) {
	payload, err := in.Certificate.JSON()
	if err != nil {
		return nil, fmt.Errorf("certificate context: %w", err)
	}

	valueSets := make(map[string]any, len(in.ValueSets))
	for id, codes := range in.ValueSets {
		list := make([]any, len(codes))
		for i, c := range codes {
			list[i] = c
		}
		valueSets[id] = list
	}

	return map[string]any{
		"payload": payload,
		"external": map[string]any{
			"validationClock":   in.Clock.UTC().Format(time.RFC3339),
			"valueSets":         valueSets,
			"countryCode":       in.Country,
			"exp":               time.Unix(in.Header.ExpiresAt, 0).UTC().Format(time.RFC3339),
			"iat":               time.Unix(in.Header.IssuedAt, 0).UTC().Format(time.RFC3339),
			"issuerCountryCode": in.Header.Issuer,
		},
	}, nil
}
