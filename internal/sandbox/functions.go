package sandbox

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// codeFunctions is the allowlist exposed to Code programs. None of these
// touch the filesystem, the network or the process. Unbounded generators
// such as range are left out, as is regexreplace, whose output cannot be
// bounded from its arguments.
func codeFunctions() map[string]function.Function {
	fns := conditionFunctions()
	for name, fn := range map[string]function.Function{
		"concat":       stdlib.ConcatFunc,
		"distinct":     stdlib.DistinctFunc,
		"element":      stdlib.ElementFunc,
		"flatten":      stdlib.FlattenFunc,
		"format":       stdlib.FormatFunc,
		"join":         stdlib.JoinFunc,
		"jsondecode":   stdlib.JSONDecodeFunc,
		"jsonencode":   stdlib.JSONEncodeFunc,
		"merge":        stdlib.MergeFunc,
		"replace":      stdlib.ReplaceFunc,
		"reverse":      stdlib.ReverseListFunc,
		"slice":        stdlib.SliceFunc,
		"sort":         stdlib.SortFunc,
		"split":        stdlib.SplitFunc,
		"substr":       stdlib.SubstrFunc,
		"title":        stdlib.TitleFunc,
		"trim":         stdlib.TrimFunc,
		"trimprefix":   stdlib.TrimPrefixFunc,
		"trimsuffix":   stdlib.TrimSuffixFunc,
		"trimspace":    stdlib.TrimSpaceFunc,
		"values":       stdlib.ValuesFunc,
		"ceil":         stdlib.CeilFunc,
		"floor":        stdlib.FloorFunc,
		"pow":          stdlib.PowFunc,
		"parseint":     stdlib.ParseIntFunc,
		"zipmap":       stdlib.ZipmapFunc,
	} {
		fns[name] = fn
	}
	return fns
}

// conditionFunctions is the narrower set available to Condition
// expressions: comparison, lookup and coercion helpers only.
func conditionFunctions() map[string]function.Function {
	return map[string]function.Function{
		"abs":      stdlib.AbsoluteFunc,
		"coalesce": stdlib.CoalesceFunc,
		"contains": stdlib.ContainsFunc,
		"keys":     stdlib.KeysFunc,
		"length":   stdlib.LengthFunc,
		"lookup":   stdlib.LookupFunc,
		"lower":    stdlib.LowerFunc,
		"max":      stdlib.MaxFunc,
		"min":      stdlib.MinFunc,
		"strlen":   stdlib.StrlenFunc,
		"upper":    stdlib.UpperFunc,
		"tostring": convertFunc(cty.String),
		"tonumber": convertFunc(cty.Number),
		"tobool":   convertFunc(cty.Bool),
	}
}

func convertFunc(target cty.Type) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "v", Type: cty.DynamicPseudoType, AllowNull: true},
		},
		Type: function.StaticReturnType(target),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return convert.Convert(args[0], retType)
		},
	})
}
