package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// MaxForDepth is the deepest nesting of for expressions a program may use.
const MaxForDepth = 3

const (
	// maxNumberExp bounds the binary exponent of numbers, which keeps them
	// inside the float64 range results are converted to.
	maxNumberExp = 1024
	// maxFormatWidth bounds the width and precision of format verbs.
	maxFormatWidth = 1024
	// maxParseIntDigits bounds the string parseint accepts.
	maxParseIntDigits = 4096
)

// ErrBudgetExceeded is returned when an evaluation outgrows its Limits.
var ErrBudgetExceeded = errors.New("evaluation budget exceeded")

// Limits bound the work a single evaluation may do.
type Limits struct {
	// MaxSteps caps loop iterations, function calls and interpolations.
	MaxSteps int
	// MaxElements caps the length of any collection.
	MaxElements int
	// MaxValueSize caps the size of a single value, counting string bytes
	// and collection elements.
	MaxValueSize int
	// MaxProduced caps the total size of all metered values of one
	// evaluation.
	MaxProduced int
}

// DefaultLimits are used when no limits are configured.
var DefaultLimits = Limits{
	MaxSteps:     100_000,
	MaxElements:  100_000,
	MaxValueSize: 8 << 20,
	MaxProduced:  64 << 20,
}

func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = DefaultLimits.MaxSteps
	}
	if l.MaxElements <= 0 {
		l.MaxElements = DefaultLimits.MaxElements
	}
	if l.MaxValueSize <= 0 {
		l.MaxValueSize = DefaultLimits.MaxValueSize
	}
	if l.MaxProduced <= 0 {
		l.MaxProduced = DefaultLimits.MaxProduced
	}
	return l
}

// meter tracks one evaluation. HCL evaluates on the calling goroutine, so
// it needs no locking. Once it fails every later step fails with the same
// error, which unwinds the evaluation in time linear to what has already
// been built.
type meter struct {
	ctx      context.Context
	limits   Limits
	steps    int
	produced int
	err      error
}

func newMeter(ctx context.Context, limits Limits) *meter {
	return &meter{ctx: ctx, limits: limits.withDefaults()}
}

func (m *meter) fail(err error) error {
	if m.err == nil {
		m.err = err
	}
	return m.err
}

func (m *meter) step() error {
	if m.err != nil {
		return m.err
	}
	if err := m.ctx.Err(); err != nil {
		return m.fail(err)
	}
	m.steps++
	if m.steps > m.limits.MaxSteps {
		return m.fail(fmt.Errorf("%w: more than %d evaluation steps", ErrBudgetExceeded, m.limits.MaxSteps))
	}
	return nil
}

// account checks v against the value limits and charges its size to the
// evaluation.
func (m *meter) account(v cty.Value) error {
	if m.err != nil {
		return m.err
	}
	size, err := m.measure(v, m.limits.MaxValueSize)
	if err != nil {
		return m.fail(err)
	}
	m.produced += size
	if m.produced > m.limits.MaxProduced {
		return m.fail(fmt.Errorf("%w: more than %d bytes produced", ErrBudgetExceeded, m.limits.MaxProduced))
	}
	return nil
}

// measure returns the size of v, stopping as soon as it passes limit.
func (m *meter) measure(v cty.Value, limit int) (int, error) {
	v, _ = v.UnmarkDeep()
	size := 0
	var walk func(cty.Value) error
	walk = func(v cty.Value) error {
		if !v.IsKnown() || v.IsNull() {
			size++
			return nil
		}
		ty := v.Type()
		switch {
		case ty == cty.String:
			size += len(v.AsString())
		case ty == cty.Number:
			bf := v.AsBigFloat()
			if bf.IsInf() {
				return fmt.Errorf("%w: number is infinite", ErrBudgetExceeded)
			}
			if exp := bf.MantExp(nil); exp > maxNumberExp || exp < -maxNumberExp {
				return fmt.Errorf("%w: number magnitude out of range", ErrBudgetExceeded)
			}
			size += 8
		case ty.IsListType() || ty.IsSetType() || ty.IsTupleType() || ty.IsMapType() || ty.IsObjectType():
			n := v.LengthInt()
			if n > m.limits.MaxElements {
				return fmt.Errorf("%w: collection of %d elements exceeds %d", ErrBudgetExceeded, n, m.limits.MaxElements)
			}
			size += n
			keyed := ty.IsMapType() || ty.IsObjectType()
			for it := v.ElementIterator(); it.Next(); {
				k, e := it.Element()
				if keyed {
					size += len(k.AsString())
				}
				if err := walk(e); err != nil {
					return err
				}
				if size > limit {
					break
				}
			}
		default:
			size++
		}
		if size > limit {
			return fmt.Errorf("%w: value larger than %d", ErrBudgetExceeded, limit)
		}
		return nil
	}
	if err := walk(v); err != nil {
		return 0, err
	}
	return size, nil
}

func (m *meter) diagnostics(r hcl.Range) hcl.Diagnostics {
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Evaluation limit reached",
		Detail:   m.err.Error(),
		Subject:  r.Ptr(),
	}}
}

// meteredExpr counts a step for every evaluation of the wrapped expression
// and accounts for the value it produces.
type meteredExpr struct {
	hclsyntax.Expression
	m *meter
}

func (e *meteredExpr) Value(ctx *hcl.EvalContext) (cty.Value, hcl.Diagnostics) {
	if err := e.m.step(); err != nil {
		return cty.DynamicVal, e.m.diagnostics(e.Range())
	}
	val, diags := e.Expression.Value(ctx)
	if diags.HasErrors() {
		return val, diags
	}
	if err := e.m.account(val); err != nil {
		return cty.DynamicVal, append(diags, e.m.diagnostics(e.Range())...)
	}
	return val, diags
}

func (m *meter) wrap(expr hclsyntax.Expression) hclsyntax.Expression {
	if expr == nil {
		return nil
	}
	return &meteredExpr{Expression: expr, m: m}
}

// instrument meters every point where evaluation repeats or where a value
// is turned into a string: for bodies, function arguments, template parts,
// conditional results, index keys and object keys.
func (m *meter) instrument(root hclsyntax.Node) {
	var nodes []hclsyntax.Node
	hclsyntax.VisitAll(root, func(n hclsyntax.Node) hcl.Diagnostics {
		nodes = append(nodes, n)
		return nil
	})

	for _, n := range nodes {
		switch e := n.(type) {
		case *hclsyntax.ForExpr:
			e.KeyExpr = m.wrap(e.KeyExpr)
			e.ValExpr = m.wrap(e.ValExpr)
			e.CondExpr = m.wrap(e.CondExpr)
		case *hclsyntax.FunctionCallExpr:
			for i := range e.Args {
				e.Args[i] = m.wrap(e.Args[i])
			}
		case *hclsyntax.TemplateExpr:
			for i, part := range e.Parts {
				if _, literal := part.(*hclsyntax.LiteralValueExpr); !literal {
					e.Parts[i] = m.wrap(part)
				}
			}
		case *hclsyntax.ConditionalExpr:
			e.TrueResult = m.wrap(e.TrueResult)
			e.FalseResult = m.wrap(e.FalseResult)
		case *hclsyntax.IndexExpr:
			e.Key = m.wrap(e.Key)
		case *hclsyntax.ObjectConsExpr:
			for i := range e.Items {
				e.Items[i].KeyExpr = m.wrap(e.Items[i].KeyExpr)
			}
		}
	}
}

// functions wraps every function so each call is a step, its arguments
// pass the guard for its name, and its result is accounted for.
func (m *meter) functions(fns map[string]function.Function) map[string]function.Function {
	out := make(map[string]function.Function, len(fns))
	for name, fn := range fns {
		out[name] = m.function(fn, guards[name])
	}
	return out
}

func (m *meter) function(fn function.Function, guard func(Limits, []cty.Value) error) function.Function {
	return function.New(&function.Spec{
		Description: fn.Description(),
		Params:      fn.Params(),
		VarParam:    fn.VarParam(),
		Type:        fn.ReturnTypeForValues,
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if err := m.step(); err != nil {
				return cty.NilVal, err
			}
			if guard != nil {
				if err := guard(m.limits, args); err != nil {
					return cty.NilVal, m.fail(err)
				}
			}
			out, err := fn.Call(args)
			if err != nil {
				return cty.NilVal, err
			}
			if err := m.account(out); err != nil {
				return cty.NilVal, err
			}
			return out, nil
		},
	})
}

// guards reject calls whose result would outgrow the limits before the
// function allocates it.
var guards = map[string]func(Limits, []cty.Value) error{
	"format":   guardFormat,
	"join":     guardJoin,
	"parseint": guardParseInt,
	"replace":  guardReplace,
	"split":    guardSplit,
}

func knownString(v cty.Value) (string, bool) {
	v, _ = v.UnmarkDeep()
	if !v.IsKnown() || v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

func tooLarge(what string, n, limit int) error {
	return fmt.Errorf("%w: %s of %d exceeds %d", ErrBudgetExceeded, what, n, limit)
}

func guardFormat(_ Limits, args []cty.Value) error {
	if len(args) == 0 {
		return nil
	}
	f, ok := knownString(args[0])
	if !ok {
		return nil
	}
	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			continue
		}
		i++
		// Widths and precisions are the digit runs between '%' and the verb.
		for i < len(f) && !isVerb(f[i]) {
			if isDigit(f[i]) {
				n := 0
				for i < len(f) && isDigit(f[i]) {
					n = n*10 + int(f[i]-'0')
					if n > maxFormatWidth {
						return tooLarge("format width", n, maxFormatWidth)
					}
					i++
				}
				continue
			}
			i++
		}
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isVerb(c byte) bool {
	return c == '%' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func guardJoin(l Limits, args []cty.Value) error {
	if len(args) < 2 {
		return nil
	}
	sep, ok := knownString(args[0])
	if !ok {
		return nil
	}
	total, count := 0, 0
	for _, list := range args[1:] {
		list, _ = list.UnmarkDeep()
		if !list.IsKnown() || list.IsNull() || !list.CanIterateElements() {
			continue
		}
		for it := list.ElementIterator(); it.Next(); {
			_, e := it.Element()
			s, _ := knownString(e)
			total += len(s)
			count++
		}
	}
	if count > 0 && len(sep) > 0 && (l.MaxValueSize-total)/len(sep) < count {
		return tooLarge("joined string", total+count*len(sep), l.MaxValueSize)
	}
	return nil
}

func guardParseInt(_ Limits, args []cty.Value) error {
	if len(args) == 0 {
		return nil
	}
	if s, ok := knownString(args[0]); ok && len(s) > maxParseIntDigits {
		return tooLarge("parseint input", len(s), maxParseIntDigits)
	}
	return nil
}

func guardReplace(l Limits, args []cty.Value) error {
	if len(args) != 3 {
		return nil
	}
	str, ok1 := knownString(args[0])
	substr, ok2 := knownString(args[1])
	repl, ok3 := knownString(args[2])
	if !ok1 || !ok2 || !ok3 || len(repl) <= len(substr) {
		return nil
	}
	n := strings.Count(str, substr)
	if n > 0 && (l.MaxValueSize-len(str))/(len(repl)-len(substr)) < n {
		return tooLarge("replaced string", len(str)+n*(len(repl)-len(substr)), l.MaxValueSize)
	}
	return nil
}

func guardSplit(l Limits, args []cty.Value) error {
	if len(args) != 2 {
		return nil
	}
	sep, ok1 := knownString(args[0])
	str, ok2 := knownString(args[1])
	if !ok1 || !ok2 {
		return nil
	}
	if n := strings.Count(str, sep) + 1; n > l.MaxElements {
		return tooLarge("split result", n, l.MaxElements)
	}
	return nil
}

// forDepth reports how deeply for expressions nest under root.
type forDepth struct {
	current, max int
}

func (w *forDepth) Enter(n hclsyntax.Node) hcl.Diagnostics {
	if _, ok := n.(*hclsyntax.ForExpr); ok {
		w.current++
		if w.current > w.max {
			w.max = w.current
		}
	}
	return nil
}

func (w *forDepth) Exit(n hclsyntax.Node) hcl.Diagnostics {
	if _, ok := n.(*hclsyntax.ForExpr); ok {
		w.current--
	}
	return nil
}

func maxForDepth(root hclsyntax.Node) int {
	w := &forDepth{}
	hclsyntax.Walk(root, w)
	return w.max
}
