package http_request

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
)

func build(t *testing.T, params map[string]any) registry.Node {
	t.Helper()
	r := registry.New()
	(&Module{}).Register(r)
	n, err := r.Build(model.Node{ID: "h", Type: model.NodeHTTP, Params: params})
	require.NoError(t, err)
	return n
}

func TestHTTPNode_JSONRoundTrip(t *testing.T) {
	// --- Arrange ---
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Request-Id", "abc")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7, "ok": true}`))
	}))
	defer srv.Close()

	n := build(t, map[string]any{
		"method":  "post",
		"url":     srv.URL + "/users/{user_id}",
		"headers": map[string]any{"Authorization": "Bearer {token}"},
		"body":    map[string]any{"name": "{name}", "static": 1},
	})

	// --- Act ---
	out, err := n.Execute(context.Background(), map[string]any{"user_id": 42, "token": "t0k", "name": "ada"})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/users/42", gotPath)
	assert.Equal(t, "Bearer t0k", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"name": "ada", "static": float64(1)}, gotBody)

	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.Equal(t, map[string]any{"id": float64(7), "ok": true}, out["data"])
	assert.Equal(t, "abc", out["headers"].(map[string]any)["X-Request-Id"])
	assert.Equal(t, true, out["success"])
}

func TestHTTPNode_Non2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "no such thing")
	}))
	defer srv.Close()

	out, err := build(t, map[string]any{"url": srv.URL}).Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, out["status_code"])
	assert.Equal(t, "no such thing", out["data"])
	assert.Equal(t, false, out["success"])
}

func TestHTTPNode_HTMLToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<h1>Title</h1><p>Some <strong>bold</strong> text.</p>")
	}))
	defer srv.Close()

	t.Run("converted when enabled", func(t *testing.T) {
		out, err := build(t, map[string]any{"url": srv.URL, "html_to_markdown": true}).Execute(context.Background(), nil)
		require.NoError(t, err)
		md := out["data"].(string)
		assert.Contains(t, md, "# Title")
		assert.Contains(t, md, "**bold**")
	})

	t.Run("raw otherwise", func(t *testing.T) {
		out, err := build(t, map[string]any{"url": srv.URL}).Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Contains(t, out["data"], "<h1>Title</h1>")
	})
}

func TestHTTPNode_UnreachableHostIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := build(t, map[string]any{"url": url}).Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, flowerr.IsSoft(err))
	assert.ErrorIs(t, err, flowerr.ErrTransport)
}

func TestHTTPNode_Errors(t *testing.T) {
	t.Run("missing template key is hard", func(t *testing.T) {
		_, err := build(t, map[string]any{"url": "http://example.invalid/{missing}"}).Execute(context.Background(), map[string]any{})
		require.Error(t, err)
		assert.ErrorIs(t, err, flowerr.ErrTemplate)
		assert.False(t, flowerr.IsSoft(err))
	})

	t.Run("unusable rendered url is soft", func(t *testing.T) {
		_, err := build(t, map[string]any{"url": "http://example.invalid/{q}"}).Execute(context.Background(), map[string]any{"q": "a\x7fb"})
		require.Error(t, err)
		assert.True(t, flowerr.IsSoft(err))
		assert.ErrorIs(t, err, flowerr.ErrTransport)
	})

	t.Run("url is required", func(t *testing.T) {
		r := registry.New()
		(&Module{}).Register(r)
		_, err := r.Build(model.Node{ID: "h", Type: model.NodeHTTP})
		assert.ErrorContains(t, err, "'url' is required")
	})
}
