// Package config loads the service settings from defaults, an optional YAML
// file, a .env file and FLOWGRID_ environment variables, in increasing order
// of precedence.
package config
