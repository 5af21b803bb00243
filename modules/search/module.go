// Package search provides the search node, a web search over a templated
// query.
package search

import (
	"context"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/tmpl"
	"github.com/vk/flowgridgo/internal/websearch"
)

// Defaults.
const (
	DefaultTimeout = 20 * time.Second
	DefaultQuery   = "{input}"
	DefaultLimit   = 5
)

// Params are the params of a search node.
type Params struct {
	Query string `param:"query"`
	Limit int    `param:"limit"`
}

// Module implements the registry.Module interface for this package.
type Module struct {
	Searcher websearch.Searcher
}

// Register registers the search node type.
func (m *Module) Register(r *registry.Registry) {
	if m.Searcher == nil {
		m.Searcher = websearch.NewDuckDuckGo("")
	}
	r.RegisterNode(model.NodeSearch, &registry.RegisteredNode{New: m.newNode, Timeout: DefaultTimeout})
}

func (m *Module) newNode(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		p.Query = DefaultQuery
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}

	return registry.NodeFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		query, err := tmpl.Format(p.Query, input)
		if err != nil {
			return nil, err
		}

		hits, err := m.Searcher.Search(ctx, query, p.Limit)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Web search failed, continuing without results.", "error", err)
			return map[string]any{
				"results": []any{},
				"count":   0,
				"warning": err.Error(),
				"success": true,
			}, nil
		}

		results := make([]any, 0, len(hits))
		for _, h := range hits {
			results = append(results, map[string]any{
				"title":   h.Title,
				"url":     h.URL,
				"snippet": h.Snippet,
				"rank":    h.Rank,
			})
		}
		return map[string]any{
			"query":   query,
			"results": results,
			"count":   len(results),
			"success": true,
		}, nil
	}), nil
}
