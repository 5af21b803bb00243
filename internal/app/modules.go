package app

import (
	"github.com/vk/flowgridgo/internal/inference"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/retrieval"
	"github.com/vk/flowgridgo/internal/websearch"
	"github.com/vk/flowgridgo/modules/code"
	"github.com/vk/flowgridgo/modules/condition"
	"github.com/vk/flowgridgo/modules/http_request"
	"github.com/vk/flowgridgo/modules/inout"
	"github.com/vk/flowgridgo/modules/llm"
	"github.com/vk/flowgridgo/modules/loop"
	retrievalnode "github.com/vk/flowgridgo/modules/retrieval"
	"github.com/vk/flowgridgo/modules/search"
	"github.com/vk/flowgridgo/modules/transform"
)

// coreModules is the definitive list of all modules that are compiled into
// the flowgrid binary, one per node type.
func (a *App) coreModules(retriever retrieval.Retriever) []registry.Module {
	s := a.config.Settings
	return []registry.Module{
		&inout.Module{},
		&transform.Module{},
		&loop.Module{},
		&condition.Module{},
		&code.Module{MaxSize: s.Engine.MaxCodeSize},
		&http_request.Module{},
		&llm.Module{Provider: inference.NewOpenAI(inference.Config{
			APIKey:  s.OpenAI.APIKey,
			BaseURL: s.OpenAI.BaseURL,
			Model:   s.OpenAI.Model,
		})},
		&retrievalnode.Module{Retriever: retriever},
		&search.Module{Searcher: websearch.NewDuckDuckGo(s.Search.UserAgent)},
	}
}
