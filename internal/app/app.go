package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/retrieval"
)

// Version is reported by the MCP server.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	modules []registry.Module

	// onListen, when set, receives the bound API address in serve mode.
	onListen func(addr string)
}

// NewApp is the constructor for the main application. Results are written
// to outW and logs to logW. Without explicit modules the core set is used.
func NewApp(outW, logW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.Settings.Log.Level, cfg.Settings.Log.Format, logW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		modules: modules,
	}
}

// newRegistry registers every module and validates that each node type has
// an implementation. A gap is a programmer error and panics.
func (a *App) newRegistry(ctx context.Context, retriever retrieval.Retriever) *registry.Registry {
	logger := ctxlog.FromContext(ctx)
	modules := a.modules
	if len(modules) == 0 {
		modules = a.coreModules(retriever)
	}

	reg := registry.New()
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.Validate(ctx); err != nil {
		panic(err)
	}
	return reg
}
