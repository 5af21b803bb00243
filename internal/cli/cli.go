package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/flowgridgo/internal/app"
	"github.com/vk/flowgridgo/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Flags that are set explicitly override the loaded settings.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("flowgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Flowgrid - A workflow engine for LLM, code, HTTP and retrieval pipelines.

Usage:
  flowgrid [options]                       serve the HTTP API
  flowgrid -run workflow.json [-input '{}'] run a workflow once and print the result
  flowgrid -watch ID -server URL           follow a remote execution

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to a YAML settings file.")
	envFileFlag := flagSet.String("env-file", ".env", "Path to a .env file, loaded when present.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent executions.")
	queueSizeFlag := flagSet.Int("queue-size", 100, "Number of executions that may wait for a worker.")
	addrFlag := flagSet.String("addr", ":8080", "Address the HTTP API listens on.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the standalone health check server. 0 is disabled.")
	workflowsDirFlag := flagSet.String("workflows-dir", "", "Directory of workflow JSON files imported when serving.")
	runFlag := flagSet.String("run", "", "Run the workflow in this JSON file once and exit.")
	inputFlag := flagSet.String("input", "", "JSON object passed as the input of -run.")
	watchFlag := flagSet.String("watch", "", "Execution id to follow on a remote server.")
	serverFlag := flagSet.String("server", "http://localhost:8080", "Server URL used by -watch.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, usageError("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	slog.Debug("Arguments parsed successfully.")

	if *runFlag != "" && *watchFlag != "" {
		return nil, false, usageError("-run and -watch cannot be combined")
	}

	settings, err := config.Load(*configFlag, *envFileFlag)
	if err != nil {
		return nil, false, usageError("%v", err)
	}

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["log-format"] {
		settings.Log.Format = strings.ToLower(*logFormatFlag)
	}
	if set["log-level"] {
		settings.Log.Level = strings.ToLower(*logLevelFlag)
	}
	if set["workers"] {
		settings.Engine.Workers = *workersFlag
	}
	if set["queue-size"] {
		settings.Engine.QueueSize = *queueSizeFlag
	}
	if set["addr"] {
		settings.Server.Addr = *addrFlag
	}
	if set["healthcheck-port"] {
		settings.Server.HealthcheckPort = *healthPortFlag
	}
	if set["workflows-dir"] {
		settings.Server.WorkflowsDir = *workflowsDirFlag
	}

	cfg := app.Config{Mode: app.ModeServe, Settings: *settings}
	switch {
	case *runFlag != "":
		cfg.Mode = app.ModeRun
		cfg.WorkflowPath = *runFlag
		if *inputFlag != "" {
			if err := json.Unmarshal([]byte(*inputFlag), &cfg.Input); err != nil {
				return nil, false, usageError("invalid -input: must be a JSON object: %v", err)
			}
		}
	case *watchFlag != "":
		cfg.Mode = app.ModeWatch
		cfg.ExecutionID = *watchFlag
		cfg.ServerURL = *serverFlag
	case *inputFlag != "":
		return nil, false, usageError("-input requires -run")
	}

	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%v", err)
	}

	slog.Debug("CLI parser finished successfully.", "mode", appConfig.Mode)
	return appConfig, false, nil
}
