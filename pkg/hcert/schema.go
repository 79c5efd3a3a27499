package hcert

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed dgc.schema.json
var dgcSchemaJSON []byte

const dgcSchemaURL = "https://dccvalidate.local/schemas/dgc.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func dgcSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(dgcSchemaURL, bytes.NewReader(dgcSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("dgc schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(dgcSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("dgc schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks a certificate's JSON form against the DCC schema and
// returns every violation found, ordered by field.
func ValidateSchema(doc []byte) ([]Violation, error) {
	schema, err := dgcSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("schema input: %w", err)
	}

	err = schema.Validate(v)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}

	var out []Violation
	collectViolations(verr, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out, nil
}

const missingPrefix = "missing properties: "

// collectViolations flattens the error tree to its leaves; inner nodes only
// restate that a subschema failed. A "required" leaf names every missing
// property at once and is split into one violation per property.
func collectViolations(e *jsonschema.ValidationError, out *[]Violation) {
	if len(e.Causes) == 0 {
		if strings.HasSuffix(e.KeywordLocation, "/required") && strings.HasPrefix(e.Message, missingPrefix) {
			for _, name := range strings.Split(strings.TrimPrefix(e.Message, missingPrefix), ", ") {
				name = strings.ReplaceAll(strings.Trim(name, "'"), `\'`, "'")
				*out = append(*out, Violation{
					Field:   e.InstanceLocation + "/" + name,
					Message: "missing required property",
				})
			}
			return
		}
		*out = append(*out, Violation{Field: e.InstanceLocation, Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collectViolations(c, out)
	}
}
