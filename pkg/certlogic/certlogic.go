// Package certlogic evaluates CertLogic expressions, the JSON-logic dialect
// in which EU DCC business rules are published.
//
// An expression is a JSON value: literals evaluate to themselves, arrays
// evaluate element-wise and a single-key object is an operation
// {"op": [args...]}. Evaluation never panics; malformed expressions and
// operands of the wrong type produce an *Error.
package certlogic

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Error reports an expression that could not be evaluated.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "certlogic: " + e.Msg
	}
	return fmt.Sprintf("certlogic: %s: %s", e.Op, e.Msg)
}

func errorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Evaluate evaluates expr against data. The result is a JSON value or, for
// plusTime, a time.Time.
func Evaluate(expr, data any) (any, error) {
	return eval(expr, data)
}

// EvaluateJSON decodes expr and data from JSON and evaluates.
func EvaluateJSON(expr, data []byte) (any, error) {
	var e, d any
	if err := json.Unmarshal(expr, &e); err != nil {
		return nil, fmt.Errorf("certlogic: expression: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("certlogic: data: %w", err)
		}
	}
	return eval(e, d)
}

func eval(expr, data any) (any, error) {
	switch v := expr.(type) {
	case nil, string, bool, time.Time:
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			r, err := eval(elem, data)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		if len(v) != 1 {
			return nil, errorf("", "object with %d keys is not an operation", len(v))
		}
		for op, args := range v {
			return evalOperation(op, args, data)
		}
	}
	if f, ok := toNumber(expr); ok {
		return f, nil
	}
	return nil, errorf("", "unsupported value of type %T", expr)
}

func evalOperation(op string, args, data any) (any, error) {
	if op == "var" {
		return evalVar(args, data)
	}

	operands, ok := args.([]any)
	if !ok {
		return nil, errorf(op, "operands must be an array")
	}

	switch op {
	case "if":
		return evalIf(operands, data)
	case "and":
		return evalAnd(operands, data)
	case "reduce":
		return evalReduce(operands, data)
	}

	values, err := evalOperands(operands, data)
	if err != nil {
		return nil, err
	}

	switch op {
	case "===":
		if len(values) != 2 {
			return nil, errorf(op, "expects 2 operands, got %d", len(values))
		}
		return strictEquals(values[0], values[1]), nil
	case "<", ">", "<=", ">=":
		return compareNumbers(op, values)
	case "in":
		return evalIn(values)
	case "+":
		return evalPlus(values)
	case "!":
		if len(values) != 1 {
			return nil, errorf(op, "expects 1 operand, got %d", len(values))
		}
		switch {
		case isTruthy(values[0]):
			return false, nil
		case isFalsy(values[0]):
			return true, nil
		}
		return nil, errorf(op, "operand is neither truthy nor falsy")
	case "!!":
		if len(values) != 1 {
			return nil, errorf(op, "expects 1 operand, got %d", len(values))
		}
		return isTruthy(values[0]), nil
	case "before", "after", "not-before", "not-after":
		return compareDates(op, values)
	case "plusTime":
		return evalPlusTime(values)
	case "extractFromUVCI":
		return evalExtractFromUVCI(values)
	default:
		return nil, errorf(op, "unknown operator")
	}
}

func evalOperands(operands []any, data any) ([]any, error) {
	out := make([]any, len(operands))
	for i, o := range operands {
		v, err := eval(o, data)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// evalVar resolves a dotted path. Missing keys and out-of-range indices
// resolve to null.
func evalVar(args, data any) (any, error) {
	path, ok := args.(string)
	if !ok {
		if arr, isArr := args.([]any); isArr && len(arr) == 1 {
			path, ok = arr[0].(string)
		}
	}
	if !ok {
		return nil, errorf("var", "operand must be a string")
	}
	if path == "" {
		return data, nil
	}

	current := data
	for _, fragment := range strings.Split(path, ".") {
		switch c := current.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			current = c[fragment]
		case []any:
			idx, err := strconv.Atoi(fragment)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, nil
			}
			current = c[idx]
		default:
			return nil, nil
		}
	}
	return current, nil
}

func evalIf(operands []any, data any) (any, error) {
	if len(operands) != 3 {
		return nil, errorf("if", "expects 3 operands, got %d", len(operands))
	}
	guard, err := eval(operands[0], data)
	if err != nil {
		return nil, err
	}
	switch {
	case isTruthy(guard):
		return eval(operands[1], data)
	case isFalsy(guard):
		return eval(operands[2], data)
	}
	return nil, errorf("if", "guard is neither truthy nor falsy")
}

// evalAnd returns the first falsy operand, or the last operand when all are
// truthy.
func evalAnd(operands []any, data any) (any, error) {
	if len(operands) < 2 {
		return nil, errorf("and", "expects at least 2 operands, got %d", len(operands))
	}
	var last any
	for _, o := range operands {
		v, err := eval(o, data)
		if err != nil {
			return nil, err
		}
		switch {
		case isFalsy(v):
			return v, nil
		case !isTruthy(v):
			return nil, errorf("and", "operand is neither truthy nor falsy")
		}
		last = v
	}
	return last, nil
}

// evalReduce folds an array with a lambda evaluated against
// {"current": item, "accumulator": acc}. A null array yields the initial value.
func evalReduce(operands []any, data any) (any, error) {
	if len(operands) != 3 {
		return nil, errorf("reduce", "expects 3 operands, got %d", len(operands))
	}
	operand, err := eval(operands[0], data)
	if err != nil {
		return nil, err
	}
	acc, err := eval(operands[2], data)
	if err != nil {
		return nil, err
	}
	if operand == nil {
		return acc, nil
	}
	items, ok := operand.([]any)
	if !ok {
		return nil, errorf("reduce", "operand must be an array or null")
	}
	for _, item := range items {
		acc, err = eval(operands[1], map[string]any{"current": item, "accumulator": acc})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func evalIn(values []any) (any, error) {
	if len(values) != 2 {
		return nil, errorf("in", "expects 2 operands, got %d", len(values))
	}
	haystack, ok := values[1].([]any)
	if !ok {
		return nil, errorf("in", "second operand must be an array")
	}
	for _, item := range haystack {
		if strictEquals(values[0], item) {
			return true, nil
		}
	}
	return false, nil
}

func evalPlus(values []any) (any, error) {
	if len(values) != 2 {
		return nil, errorf("+", "expects 2 operands, got %d", len(values))
	}
	a, aok := toInteger(values[0])
	b, bok := toInteger(values[1])
	if !aok || !bok {
		return nil, errorf("+", "operands must be integers")
	}
	return float64(a + b), nil
}

func compareNumbers(op string, values []any) (any, error) {
	if len(values) != 2 && len(values) != 3 {
		return nil, errorf(op, "expects 2 or 3 operands, got %d", len(values))
	}
	nums := make([]float64, len(values))
	for i, v := range values {
		f, ok := toNumber(v)
		if !ok {
			return nil, errorf(op, "operand %d is not a number", i)
		}
		nums[i] = f
	}
	var cmp func(a, b float64) bool
	switch op {
	case "<":
		cmp = func(a, b float64) bool { return a < b }
	case ">":
		cmp = func(a, b float64) bool { return a > b }
	case "<=":
		cmp = func(a, b float64) bool { return a <= b }
	default:
		cmp = func(a, b float64) bool { return a >= b }
	}
	for i := 0; i+1 < len(nums); i++ {
		if !cmp(nums[i], nums[i+1]) {
			return false, nil
		}
	}
	return true, nil
}

func compareDates(op string, values []any) (any, error) {
	if len(values) != 2 && len(values) != 3 {
		return nil, errorf(op, "expects 2 or 3 operands, got %d", len(values))
	}
	dates := make([]time.Time, len(values))
	for i, v := range values {
		t, ok := v.(time.Time)
		if !ok {
			return nil, errorf(op, "operand %d is not a date", i)
		}
		dates[i] = t
	}
	var cmp func(a, b time.Time) bool
	switch op {
	case "before":
		cmp = func(a, b time.Time) bool { return a.Before(b) }
	case "after":
		cmp = func(a, b time.Time) bool { return a.After(b) }
	case "not-before":
		cmp = func(a, b time.Time) bool { return !a.Before(b) }
	default:
		cmp = func(a, b time.Time) bool { return !a.After(b) }
	}
	for i := 0; i+1 < len(dates); i++ {
		if !cmp(dates[i], dates[i+1]) {
			return false, nil
		}
	}
	return true, nil
}

func evalExtractFromUVCI(values []any) (any, error) {
	if len(values) != 2 {
		return nil, errorf("extractFromUVCI", "expects 2 operands, got %d", len(values))
	}
	index, ok := toInteger(values[1])
	if !ok {
		return nil, errorf("extractFromUVCI", "index must be an integer")
	}
	if values[0] == nil {
		return nil, nil
	}
	uvci, ok := values[0].(string)
	if !ok {
		return nil, errorf("extractFromUVCI", "operand must be a string or null")
	}
	return ExtractFromUVCI(uvci, index), nil
}

// ExtractFromUVCI returns the index-th fragment of a unique vaccination
// certificate identifier, ignoring the optional URN:UVCI: prefix. Fragments
// are separated by '/', '#' or ':'. It returns nil when index is out of range.
func ExtractFromUVCI(uvci string, index int64) any {
	if index < 0 {
		return nil
	}
	uvci = strings.TrimPrefix(uvci, "URN:UVCI:")
	fragments := splitAny(uvci, "/#:")
	if index >= int64(len(fragments)) {
		return nil
	}
	return fragments[index]
}

func splitAny(s, seps string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if strings.ContainsRune(seps, r) {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func strictEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return false
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	return false
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	if f, ok := toNumber(v); ok {
		return f == 0
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInteger(v any) (int64, bool) {
	f, ok := toNumber(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
