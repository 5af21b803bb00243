package sandbox

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ToValue converts a JSON-shaped Go value to a cty.Value. Types the direct
// switch does not cover are routed through their JSON encoding.
func ToValue(data any) (cty.Value, error) {
	if data == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	switch v := data.(type) {
	case cty.Value:
		return v, nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case float32:
		return cty.NumberFloatVal(float64(v)), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int32:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case json.Number:
		f, ok := new(big.Float).SetString(v.String())
		if !ok {
			return cty.NilVal, fmt.Errorf("invalid number %q", v.String())
		}
		return cty.NumberVal(f), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(v))
		for key, val := range v {
			ctyVal, err := ToValue(val)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key '%s': %w", key, err)
			}
			attrs[key] = ctyVal
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		elems := make([]cty.Value, 0, len(v))
		for i, val := range v {
			ctyVal, err := ToValue(val)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems = append(elems, ctyVal)
		}
		return cty.TupleVal(elems), nil
	case []map[string]any:
		elems := make([]any, len(v))
		for i, m := range v {
			elems[i] = m
		}
		return ToValue(elems)
	case []string:
		elems := make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
		return ToValue(elems)
	default:
		return fromJSON(v)
	}
}

func fromJSON(v any) (cty.Value, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported type for conversion to cty.Value: %T", v)
	}
	ty, err := ctyjson.ImpliedType(buf)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to infer type of %T: %w", v, err)
	}
	return ctyjson.Unmarshal(buf, ty)
}

// FromValue converts a cty.Value back to a JSON-shaped Go value. Numbers
// become float64, sequences []any and objects map[string]any.
func FromValue(val cty.Value) (any, error) {
	if val.Type() == cty.NilType || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	val, _ = val.Unmark()
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := FromValue(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := FromValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}
