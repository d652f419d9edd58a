package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator is a closed set of condition comparison operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpBetween    Operator = "between"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpExists     Operator = "exists"
)

// Symbol returns the human-readable operator symbol used in debug explanations.
func (op Operator) Symbol() string {
	switch op {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpIn:
		return "in"
	case OpNotIn:
		return "not in"
	case OpBetween:
		return "between"
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "starts with"
	case OpEndsWith:
		return "ends with"
	case OpRegex:
		return "matches"
	case OpExists:
		return "exists"
	}
	return string(op)
}

func validOperator(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
		OpBetween, OpContains, OpStartsWith, OpEndsWith, OpRegex, OpExists:
		return true
	}
	return false
}

// Condition compares one transaction attribute against a constant.
// Conditions within a rule combine with short-circuit AND semantics.
type Condition struct {
	Field string   `yaml:"field" json:"field"`
	Op    Operator `yaml:"op" json:"op"`
	Value any      `yaml:"value" json:"value"`

	re *regexp.Regexp // precompiled for OpRegex at set build time
}

// Eval resolves the condition's field from ctx and applies the operator.
// Any type mismatch or resolution failure evaluates to false; condition
// errors never abort rule evaluation.
func (c *Condition) Eval(ctx map[string]any) bool {
	actual, ok := ctx[c.Field]
	if c.Op == OpExists {
		want := true
		if b, isBool := c.Value.(bool); isBool {
			want = b
		}
		return ok == want
	}
	if !ok {
		return false
	}
	matched, err := c.EvalValue(actual)
	if err != nil {
		return false
	}
	return matched
}

// EvalValue applies the operator to an already-resolved attribute value.
func (c *Condition) EvalValue(actual any) (bool, error) {
	switch c.Op {
	case OpEq:
		return equal(actual, c.Value), nil
	case OpNeq:
		return !equal(actual, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(c.Op, actual, c.Value)
	case OpIn:
		return membership(actual, c.Value)
	case OpNotIn:
		in, err := membership(actual, c.Value)
		return !in, err
	case OpBetween:
		return between(actual, c.Value)
	case OpContains, OpStartsWith, OpEndsWith:
		return stringCompare(c.Op, actual, c.Value)
	case OpRegex:
		return c.regexMatch(actual)
	case OpExists:
		return true, nil // field resolved, so it exists
	default:
		return false, fmt.Errorf("unknown operator: %s", c.Op)
	}
}

// compile validates the operator and precompiles regex patterns so the hot
// path never parses patterns.
func (c *Condition) compile() error {
	if c.Field == "" {
		return fmt.Errorf("condition: field is required")
	}
	if !validOperator(c.Op) {
		return fmt.Errorf("condition %s: unknown operator %q", c.Field, c.Op)
	}
	if c.Op == OpRegex {
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("condition %s: regex value must be a string, got %T", c.Field, c.Value)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("condition %s: invalid regex %q: %w", c.Field, pattern, err)
		}
		c.re = re
	}
	return nil
}

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equal compares numeric types by value, everything else by string form.
func equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericCompare(op Operator, left, right any) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	case OpLte:
		return lf <= rf, nil
	}
	return false, nil
}

// membership checks actual ∈ value, where value is any list shape YAML/JSON
// can produce.
func membership(actual, value any) (bool, error) {
	items, err := toSlice(value)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if equal(actual, item) {
			return true, nil
		}
	}
	return false, nil
}

func toSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("membership operator requires a list value, got %T", value)
}

// between expects a two-element [low, high] list, bounds inclusive.
func between(actual, value any) (bool, error) {
	bounds, err := toSlice(value)
	if err != nil {
		return false, err
	}
	if len(bounds) != 2 {
		return false, fmt.Errorf("between requires exactly two bounds, got %d", len(bounds))
	}
	af, aok := toFloat64(actual)
	lo, lok := toFloat64(bounds[0])
	hi, hok := toFloat64(bounds[1])
	if !aok || !lok || !hok {
		return false, fmt.Errorf("between requires numeric operands")
	}
	return af >= lo && af <= hi, nil
}

func stringCompare(op Operator, actual, value any) (bool, error) {
	as, ok := actual.(string)
	if !ok {
		return false, fmt.Errorf("operator %s requires a string attribute, got %T", op, actual)
	}
	vs := fmt.Sprintf("%v", value)
	switch op {
	case OpContains:
		return strings.Contains(as, vs), nil
	case OpStartsWith:
		return strings.HasPrefix(as, vs), nil
	case OpEndsWith:
		return strings.HasSuffix(as, vs), nil
	}
	return false, nil
}

func (c *Condition) regexMatch(actual any) (bool, error) {
	as, ok := actual.(string)
	if !ok {
		return false, fmt.Errorf("regex operator requires a string attribute, got %T", actual)
	}
	re := c.re
	if re == nil {
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("regex value must be a string, got %T", c.Value)
		}
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
	}
	return re.MatchString(as), nil
}
