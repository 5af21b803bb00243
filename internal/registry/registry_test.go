package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
)

func echoFactory(n model.Node) (Node, error) {
	return NodeFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}), nil
}

func TestRegisterNode(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		r := New()
		r.RegisterNode(model.NodeInput, &RegisteredNode{New: echoFactory})
		r.RegisterNode(model.NodeCode, &RegisteredNode{New: echoFactory, Timeout: time.Second})
		assert.Equal(t, []string{"code", "input"}, r.Types())
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		r := New()
		r.RegisterNode(model.NodeInput, &RegisteredNode{New: echoFactory})
		assert.PanicsWithValue(t, "node type 'input' already registered", func() {
			r.RegisterNode(model.NodeInput, &RegisteredNode{New: echoFactory})
		})
	})

	t.Run("type outside the closed set panics", func(t *testing.T) {
		r := New()
		assert.Panics(t, func() {
			r.RegisterNode(model.NodeType("teleport"), &RegisteredNode{New: echoFactory})
		})
	})

	t.Run("missing factory panics", func(t *testing.T) {
		r := New()
		assert.Panics(t, func() { r.RegisterNode(model.NodeLLM, &RegisteredNode{}) })
	})
}

func TestBuild(t *testing.T) {
	r := New()
	r.RegisterNode(model.NodeInput, &RegisteredNode{New: echoFactory})
	r.RegisterNode(model.NodeOutput, &RegisteredNode{New: echoFactory})
	r.RegisterNode(model.NodeCode, &RegisteredNode{New: func(n model.Node) (Node, error) {
		return nil, errors.New("code is required")
	}})

	t.Run("known type", func(t *testing.T) {
		node, err := r.Build(model.Node{ID: "a", Type: model.NodeInput})
		require.NoError(t, err)
		out, err := node.Execute(context.Background(), map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"x": 1}, out)
	})

	t.Run("unknown type names the tag and valid tags", func(t *testing.T) {
		_, err := r.Build(model.Node{ID: "a", Type: "teleport"})
		require.Error(t, err)
		assert.ErrorIs(t, err, flowerr.ErrUnknownNodeType)
		var unknown *flowerr.UnknownNodeTypeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "teleport", unknown.Type)
		assert.Equal(t, []string{"code", "input", "output"}, unknown.Valid)
	})

	t.Run("factory errors name the node", func(t *testing.T) {
		_, err := r.Build(model.Node{ID: "c1", Type: model.NodeCode})
		assert.EqualError(t, err, "node 'c1' (code): code is required")
	})
}

func TestTimeout(t *testing.T) {
	r := New()
	r.RegisterNode(model.NodeHTTP, &RegisteredNode{New: echoFactory, Timeout: 30 * time.Second})
	r.RegisterNode(model.NodeInput, &RegisteredNode{New: echoFactory})

	cases := []struct {
		name string
		node model.Node
		want time.Duration
	}{
		{"type default", model.Node{Type: model.NodeHTTP}, 30 * time.Second},
		{"global default", model.Node{Type: model.NodeInput}, DefaultTimeout},
		{"duration string", model.Node{Type: model.NodeHTTP, Params: map[string]any{"timeout": "1m"}}, time.Minute},
		{"seconds as number", model.Node{Type: model.NodeHTTP, Params: map[string]any{"timeout": float64(2)}}, 2 * time.Second},
		{"seconds as string", model.Node{Type: model.NodeHTTP, Params: map[string]any{"timeout": "0.5"}}, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Timeout(tc.node)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := r.Timeout(model.Node{ID: "h", Type: model.NodeHTTP, Params: map[string]any{"timeout": "soon"}})
	assert.ErrorContains(t, err, "node 'h': invalid timeout")
}

func TestValidate(t *testing.T) {
	r := New()
	for _, nt := range model.NodeTypes() {
		if nt == model.NodeSearch {
			continue
		}
		r.RegisterNode(nt, &RegisteredNode{New: echoFactory})
	}
	err := r.Validate(context.Background())
	assert.ErrorContains(t, err, "no implementation for node types: search")

	r.RegisterNode(model.NodeSearch, &RegisteredNode{New: echoFactory})
	assert.NoError(t, r.Validate(context.Background()))
}

func TestDecodeParams(t *testing.T) {
	type params struct {
		URL     string            `param:"url"`
		Limit   int               `param:"limit"`
		Headers map[string]string `param:"headers"`
		Wait    time.Duration     `param:"wait"`
	}

	var p params
	err := DecodeParams(map[string]any{
		"url":     "http://x",
		"limit":   "5",
		"headers": map[string]any{"A": "b"},
		"wait":    "2s",
		"extra":   true,
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, params{URL: "http://x", Limit: 5, Headers: map[string]string{"A": "b"}, Wait: 2 * time.Second}, p)

	err = DecodeParams(map[string]any{"limit": "many"}, &p)
	assert.ErrorContains(t, err, "invalid params")
}
