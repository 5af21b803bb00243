// Package retrieval provides the retrieval node, which queries the document
// index for passages similar to a templated query.
package retrieval

import (
	"context"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/retrieval"
	"github.com/vk/flowgridgo/internal/tmpl"
)

// Defaults.
const (
	DefaultTimeout = 30 * time.Second
	DefaultQuery   = "{input}"
	DefaultK       = 5
	previewLength  = 200
)

// Params are the params of a retrieval node.
type Params struct {
	Query string `param:"query"`
	K     int    `param:"k"`
}

// Module implements the registry.Module interface for this package.
type Module struct {
	Retriever retrieval.Retriever
}

// Register registers the retrieval node type.
func (m *Module) Register(r *registry.Registry) {
	if m.Retriever == nil {
		m.Retriever = retrieval.Disabled{}
	}
	r.RegisterNode(model.NodeRetrieval, &registry.RegisteredNode{New: m.newNode, Timeout: DefaultTimeout})
}

func (m *Module) newNode(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		p.Query = DefaultQuery
	}
	if p.K <= 0 {
		p.K = DefaultK
	}

	return registry.NodeFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		query, err := tmpl.Format(p.Query, input)
		if err != nil {
			return nil, err
		}

		docs, err := m.Retriever.Query(ctx, query, p.K)
		if err != nil {
			// Missing context is acceptable: the run carries on without it.
			ctxlog.FromContext(ctx).Warn("Retrieval failed, continuing without documents.", "error", err)
			return map[string]any{
				"documents": []any{},
				"sources":   []any{},
				"count":     0,
				"warning":   err.Error(),
				"success":   true,
			}, nil
		}

		documents := make([]any, 0, len(docs))
		sources := make([]any, 0, len(docs))
		for _, d := range docs {
			documents = append(documents, d.Content)
			sources = append(sources, map[string]any{
				"content":  preview(d.Content),
				"metadata": d.Metadata,
				"score":    d.Score,
			})
		}
		return map[string]any{
			"documents": documents,
			"sources":   sources,
			"count":     len(docs),
			"success":   true,
		}, nil
	}), nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}
