package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/flowerr"
)

func TestFormat(t *testing.T) {
	input := map[string]any{
		"name":  "Ada",
		"count": float64(3),
		"ratio": 0.25,
		"ok":    true,
		"user":  map[string]any{"city": "Paris"},
		"tags":  []any{"a", "b"},
	}

	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain text", "hello", "hello"},
		{"single key", "hello {name}", "hello Ada"},
		{"numbers", "{count} at {ratio}", "3 at 0.25"},
		{"bool", "ok={ok}", "ok=true"},
		{"dotted path", "from {user.city}", "from Paris"},
		{"composite as json", "tags={tags}", `tags=["a","b"]`},
		{"escaped braces", "{{literal}} {name}", "{literal} Ada"},
		{"spaces inside placeholder", "{ name }", "Ada"},
		{"lone closing brace", "a}b", "a}b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Format(tc.tmpl, input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormat_InputFallback(t *testing.T) {
	t.Run("uses the input key when present", func(t *testing.T) {
		got, err := Format("{input}", map[string]any{"input": "question"})
		require.NoError(t, err)
		assert.Equal(t, "question", got)
	})

	t.Run("falls back to the whole mapping", func(t *testing.T) {
		got, err := Format("{input}", map[string]any{"q": "x"})
		require.NoError(t, err)
		assert.Equal(t, `{"q":"x"}`, got)
	})
}

func TestFormat_Errors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := Format("hi {who}", map[string]any{})
		require.Error(t, err)
		assert.ErrorIs(t, err, flowerr.ErrTemplate)
		var te *flowerr.TemplateError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "who", te.Key)
	})

	t.Run("missing nested key", func(t *testing.T) {
		_, err := Format("{user.zip}", map[string]any{"user": map[string]any{}})
		assert.ErrorIs(t, err, flowerr.ErrTemplate)
	})

	t.Run("unclosed placeholder", func(t *testing.T) {
		_, err := Format("hi {name", map[string]any{"name": "x"})
		assert.ErrorIs(t, err, flowerr.ErrTemplate)
	})

	t.Run("empty placeholder", func(t *testing.T) {
		_, err := Format("hi {}", map[string]any{})
		assert.ErrorIs(t, err, flowerr.ErrTemplate)
	})
}

func TestFormatValue(t *testing.T) {
	input := map[string]any{"id": "42", "token": "abc"}
	v, err := FormatValue(map[string]any{
		"path":    "/items/{id}",
		"headers": []any{"Bearer {token}", 7},
		"limit":   10,
	}, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"path":    "/items/42",
		"headers": []any{"Bearer abc", 7},
		"limit":   10,
	}, v)

	_, err = FormatValue([]any{"{missing}"}, input)
	assert.ErrorIs(t, err, flowerr.ErrTemplate)
}

func TestLookup(t *testing.T) {
	input := map[string]any{"a.b": 1, "a": map[string]any{"b": 2, "c": map[string]any{"d": 3}}}

	v, ok := Lookup(input, "a.b")
	require.True(t, ok)
	assert.Equal(t, 1, v, "exact key wins over traversal")

	v, ok = Lookup(input, "a.c.d")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = Lookup(input, "a.b.c")
	assert.False(t, ok)
}
