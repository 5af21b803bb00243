package app

import (
	"errors"
	"fmt"

	"github.com/vk/flowgridgo/internal/config"
)

// Mode selects what Run does.
type Mode string

const (
	ModeServe Mode = "serve"
	ModeRun   Mode = "run"
	ModeWatch Mode = "watch"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Mode     Mode
	Settings config.Settings

	// ModeRun
	WorkflowPath string
	Input        map[string]any

	// ModeWatch
	ExecutionID string
	ServerURL   string
}

func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Mode {
	case ModeServe:
	case ModeRun:
		if cfg.WorkflowPath == "" {
			return nil, errors.New("a workflow file is required to run")
		}
	case ModeWatch:
		if cfg.ExecutionID == "" || cfg.ServerURL == "" {
			return nil, errors.New("watch needs both an execution id and a server URL")
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
