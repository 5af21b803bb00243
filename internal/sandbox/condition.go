package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/zclconf/go-cty/cty"
)

// Condition is a compiled boolean expression.
type Condition struct {
	src    string
	limits Limits
}

// CompileCondition parses a single expression such as
// `status_code >= 200 && status_code < 300`.
func CompileCondition(src string) (*Condition, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &flowerr.EvaluationError{Msg: "condition is empty"}
	}
	expr, err := parseCondition(src)
	if err != nil {
		return nil, err
	}
	if depth := maxForDepth(expr); depth > MaxForDepth {
		return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("for expressions nest %d deep, at most %d allowed", depth, MaxForDepth)}
	}
	return &Condition{src: src, limits: DefaultLimits}, nil
}

// WithLimits returns a copy of c that evaluates under l.
func (c *Condition) WithLimits(l Limits) *Condition {
	cp := *c
	cp.limits = l.withDefaults()
	return &cp
}

func parseCondition(src string) (hclsyntax.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "condition.hcl", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &flowerr.EvaluationError{Msg: diags.Error()}
	}
	return expr, nil
}

// Evaluate runs the expression against input. Top-level input keys that are
// valid identifiers are bound as variables, and the whole mapping is bound
// as `input` unless a key of that name already exists. Evaluation is metered
// like a Code program.
func (c *Condition) Evaluate(ctx context.Context, input map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	vars := make(map[string]cty.Value, len(input)+1)
	for k, v := range input {
		if !hclsyntax.ValidIdentifier(k) {
			continue
		}
		val, err := ToValue(v)
		if err != nil {
			return false, &flowerr.EvaluationError{Msg: fmt.Sprintf("input key '%s': %v", k, err)}
		}
		vars[k] = val
	}
	if _, ok := vars["input"]; !ok {
		whole, err := ToValue(input)
		if err != nil {
			return false, &flowerr.EvaluationError{Msg: err.Error()}
		}
		vars["input"] = whole
	}

	expr, err := parseCondition(c.src)
	if err != nil {
		return false, err
	}
	m := newMeter(ctx, c.limits)
	m.instrument(expr)

	val, diags := expr.Value(&hcl.EvalContext{
		Variables: vars,
		Functions: m.functions(conditionFunctions()),
	})
	if m.err != nil {
		return false, limitError(m.err)
	}
	if diags.HasErrors() {
		return false, &flowerr.EvaluationError{Msg: diags.Error()}
	}
	return Truthy(val)
}

// Truthy coerces a result to a boolean. Null is false; strings are true
// unless empty or "false"; numbers unless zero; collections unless empty.
func Truthy(val cty.Value) (bool, error) {
	if !val.IsKnown() {
		return false, &flowerr.EvaluationError{Msg: "condition result is unknown"}
	}
	if val.IsNull() {
		return false, nil
	}
	val, _ = val.Unmark()
	ty := val.Type()
	switch {
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		return val.AsBigFloat().Sign() != 0, nil
	case ty == cty.String:
		s := strings.TrimSpace(val.AsString())
		return s != "" && !strings.EqualFold(s, "false"), nil
	case ty.IsObjectType():
		return len(ty.AttributeTypes()) > 0, nil
	case ty.IsCollectionType() || ty.IsTupleType():
		return val.LengthInt() > 0, nil
	default:
		return false, &flowerr.EvaluationError{Msg: fmt.Sprintf("cannot use %s as a condition", ty.FriendlyName())}
	}
}
