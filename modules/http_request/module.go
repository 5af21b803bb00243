// Package http_request provides the http node: one outbound request per
// execution, with method, URL, headers and body templated against the
// node's input.
package http_request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/tmpl"
)

// DefaultTimeout bounds a request when the node sets no timeout.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// Params are the params of an http node.
type Params struct {
	Method         string         `param:"method"`
	URL            string         `param:"url"`
	Headers        map[string]any `param:"headers"`
	Body           any            `param:"body"`
	HTMLToMarkdown bool           `param:"html_to_markdown"`
}

// Module implements the registry.Module interface for this package.
// Client is shared by every http node; NewClient is used when nil.
type Module struct {
	Client *http.Client
}

// Register registers the http node type.
func (m *Module) Register(r *registry.Registry) {
	if m.Client == nil {
		m.Client = NewClient()
	}
	r.RegisterNode(model.NodeHTTP, &registry.RegisteredNode{New: m.newNode, Timeout: DefaultTimeout})
}

func (m *Module) newNode(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	p.Method = strings.ToUpper(p.Method)
	if p.URL == "" {
		return nil, fmt.Errorf("'url' is required")
	}
	return &httpNode{client: m.Client, params: p}, nil
}

type httpNode struct {
	client *http.Client
	params Params
}

// Execute sends the request. Template errors are hard. Any failure to
// deliver the request, a rendered URL that does not parse included, is a
// soft transport error. A non-2xx response is reported as `success: false`
// without an error.
func (h *httpNode) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	req, err := h.buildRequest(ctx, input)
	if err != nil {
		return nil, err
	}

	logger.Info("Making HTTP request.", "method", req.Method, "url", req.URL.Redacted())
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, flowerr.Soft(fmt.Errorf("%w: failed to execute request: %w", flowerr.ErrTransport, err))
	}
	defer resp.Body.Close()
	logger.Info("Received HTTP response.", "status", resp.Status)

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, flowerr.Soft(fmt.Errorf("%w: failed to read response body: %w", flowerr.ErrTransport, err))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"data":        h.decodeBody(ctx, resp.Header.Get("Content-Type"), bodyBytes),
		"headers":     headers,
		"success":     resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func (h *httpNode) buildRequest(ctx context.Context, input map[string]any) (*http.Request, error) {
	url, err := tmpl.Format(h.params.URL, input)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType string
	)
	switch b := h.params.Body.(type) {
	case nil:
	case string:
		s, err := tmpl.Format(b, input)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(s)
	default:
		formatted, err := tmpl.FormatValue(b, input)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(formatted)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, h.params.Method, url, body)
	if err != nil {
		// The rendered URL comes from run data, so it fails like a request
		// that could not be delivered.
		return nil, flowerr.Soft(fmt.Errorf("%w: failed to create request: %w", flowerr.ErrTransport, err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range h.params.Headers {
		formatted, err := tmpl.FormatValue(v, input)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, tmpl.Stringify(formatted))
	}
	return req, nil
}

// decodeBody parses JSON bodies and, when asked to, converts HTML bodies
// to Markdown. Anything else, or a body that fails to parse, is returned
// as a string.
func (h *httpNode) decodeBody(ctx context.Context, contentType string, body []byte) any {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	case mediaType == "text/html" && h.params.HTMLToMarkdown:
		markdown, err := htmltomarkdown.ConvertString(string(body))
		if err == nil {
			return markdown
		}
		ctxlog.FromContext(ctx).Warn("Failed to convert HTML body to Markdown.", "error", err)
	}
	return string(body)
}
