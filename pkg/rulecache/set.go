package rulecache

import (
	"github.com/Mindburn-Labs/dccvalidate/pkg/rules"
)

// Resource names, used both as fetch resources and store keys.
const (
	NameCountries         = "countries"
	NameAcceptanceRules   = "acceptance-rules"
	NameInvalidationRules = "invalidation-rules"
	NameValueSets         = "value-sets"
)

// Set holds the four caches a validator reads. Each refreshes and fails
// independently.
type Set struct {
	Countries         *Resource[[]string]
	AcceptanceRules   *Resource[[]rules.Rule]
	InvalidationRules *Resource[[]rules.Rule]
	ValueSets         *Resource[[]rules.ValueSet]
}

func NewSet(opts Options) *Set {
	return &Set{
		Countries:         NewResource(NameCountries, opts, rules.DecodeCountries),
		AcceptanceRules:   NewResource(NameAcceptanceRules, opts, rulesOfType(rules.TypeAcceptance)),
		InvalidationRules: NewResource(NameInvalidationRules, opts, rulesOfType(rules.TypeInvalidation)),
		ValueSets:         NewResource(NameValueSets, opts, rules.DecodeValueSets),
	}
}

// rulesOfType drops rules published in the wrong list.
func rulesOfType(t rules.Type) Decoder[[]rules.Rule] {
	return func(payload []byte) ([]rules.Rule, error) {
		all, err := rules.DecodeRules(payload)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, r := range all {
			if r.Type == t {
				out = append(out, r)
			}
		}
		return out, nil
	}
}
