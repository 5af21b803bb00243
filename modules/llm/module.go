// Package llm provides the llm node: a templated prompt sent to the
// configured inference provider.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/inference"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/tmpl"
)

// Defaults.
const (
	DefaultTimeout     = 120 * time.Second
	DefaultPrompt      = "{input}"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Params are the params of an llm node. Pointer fields distinguish an
// explicit zero from an absent param.
type Params struct {
	Prompt      string   `param:"prompt"`
	System      string   `param:"system"`
	Model       string   `param:"model"`
	Temperature *float64 `param:"temperature"`
	MaxTokens   *int     `param:"max_tokens"`
	JSONOutput  bool     `param:"json_output"`
}

// Module implements the registry.Module interface for this package.
type Module struct {
	Provider inference.Provider
}

// Register registers the llm node type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeLLM, &registry.RegisteredNode{New: m.newNode, Timeout: DefaultTimeout})
}

func (m *Module) newNode(n model.Node) (registry.Node, error) {
	if m.Provider == nil {
		return nil, errors.New("no inference provider configured")
	}
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	req := inference.Request{
		Model:       p.Model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		JSONOutput:  p.JSONOutput,
	}
	if p.Temperature != nil {
		req.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		req.MaxTokens = *p.MaxTokens
	}
	if p.Prompt == "" {
		p.Prompt = DefaultPrompt
	}
	return &llmNode{provider: m.Provider, params: p, base: req}, nil
}

type llmNode struct {
	provider inference.Provider
	params   Params
	base     inference.Request
}

// Execute formats the prompt and system message and calls the provider.
// Template errors are hard; provider failures are soft.
func (l *llmNode) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx)

	req := l.base
	var err error
	if req.Prompt, err = tmpl.Format(l.params.Prompt, input); err != nil {
		return nil, err
	}
	if req.System, err = tmpl.Format(l.params.System, input); err != nil {
		return nil, err
	}

	logger.Debug("Calling inference provider.", "model", req.Model, "promptLength", len(req.Prompt))
	resp, err := l.provider.Generate(ctx, req)
	if err != nil {
		if !errors.Is(err, flowerr.ErrProvider) {
			err = fmt.Errorf("%w: %w", flowerr.ErrProvider, err)
		}
		return nil, flowerr.Soft(err)
	}

	out := map[string]any{
		"output":  resp.Text,
		"model":   resp.Model,
		"success": true,
	}
	if l.params.JSONOutput {
		parsed, err := parseJSON(resp.Text)
		if err != nil {
			out["warning"] = fmt.Sprintf("response is not valid JSON: %v", err)
		} else {
			out["parsed"] = parsed
		}
	}
	return out, nil
}

// parseJSON decodes text, repairing it first if it does not parse as is.
func parseJSON(text string) (any, error) {
	var v any
	err := json.Unmarshal([]byte(text), &v)
	if err == nil {
		return v, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(text)
	if repairErr != nil {
		return nil, fmt.Errorf("unmarshal error: %w, repair error: %v", err, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal repaired JSON: %w", err)
	}
	return v, nil
}
