// Package tmpl implements the `{key}` placeholder syntax used by node
// parameters such as prompts, URLs and transform templates.
//
// A placeholder names a key of the input mapping; dotted names walk nested
// maps. `{{` and `}}` produce literal braces. A placeholder whose key is
// absent fails with a *flowerr.TemplateError.
package tmpl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/flowgridgo/internal/flowerr"
)

// Format substitutes every placeholder in tmpl against input.
func Format(tmpl string, input map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed placeholder at offset %d", flowerr.ErrTemplate, i)
			}
			key := strings.TrimSpace(tmpl[i+1 : i+1+end])
			if key == "" {
				return "", fmt.Errorf("%w: empty placeholder at offset %d", flowerr.ErrTemplate, i)
			}
			val, err := resolve(key, input)
			if err != nil {
				return "", err
			}
			b.WriteString(Stringify(val))
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				i++
			}
			b.WriteByte('}')
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// resolve looks key up in input. The bare key "input" falls back to the whole
// mapping when no such entry exists, so "{input}" is a useful default prompt.
func resolve(key string, input map[string]any) (any, error) {
	if v, ok := Lookup(input, key); ok {
		return v, nil
	}
	if key == "input" {
		return input, nil
	}
	return nil, &flowerr.TemplateError{Key: key}
}

// Lookup walks a dotted path through nested maps. An exact match on the full
// key wins over path traversal.
func Lookup(input map[string]any, path string) (any, bool) {
	if v, ok := input[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = input
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a value for substitution. Strings are inserted verbatim,
// numbers without trailing zeros, and composite values as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// FormatValue applies Format to every string reachable inside v, leaving
// other values untouched. It is used for structured parameters such as HTTP
// headers and JSON bodies.
func FormatValue(v any, input map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return Format(t, input)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			f, err := FormatValue(val, input)
			if err != nil {
				return nil, err
			}
			out[k] = f
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			f, err := FormatValue(val, input)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return v, nil
	}
}
