// Package config loads the proxy configuration: defaults, then a TOML file,
// then environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/phuslu/log"

	"github.com/zijiren233/openapi-mcp-proxy/logging"
)

// DefaultPath is the config file looked up when none is given explicitly.
const DefaultPath = "openapi-mcp.toml"

// Environment variables read by Load.
const (
	EnvSpecPath = "OPENAPI_SPEC_PATH"
	EnvBaseURL  = "OPENAPI_BASE_URL"
	EnvHeaders  = "OPENAPI_MCP_HEADERS"
	EnvLogLevel = "OPENAPI_MCP_LOG_LEVEL"
)

// Config holds all proxy configuration.
type Config struct {
	Spec    SpecConfig    `toml:"spec"`
	Server  ServerConfig  `toml:"server"`
	HTTP    HTTPConfig    `toml:"http"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
}

// SpecConfig describes the interface document and how it is turned into tools.
type SpecConfig struct {
	Path                   string   `toml:"path"`
	BaseURL                string   `toml:"base_url"`
	Swagger2               bool     `toml:"swagger2"`
	ToolPrefix             string   `toml:"tool_prefix"`
	IncludeTags            []string `toml:"include_tags"`
	ExcludeTags            []string `toml:"exclude_tags"`
	SynthesizeOperationIDs bool     `toml:"synthesize_operation_ids"`
}

// ServerConfig contains the MCP server identity and transport.
type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Transport string `toml:"transport"` // stdio or http
	Addr      string `toml:"addr"`
}

// HTTPConfig contains settings for outbound API requests.
type HTTPConfig struct {
	Headers   map[string]string `toml:"headers"`
	UserAgent string            `toml:"user_agent"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	FilePath string `toml:"file_path"`
}

// Logging converts the logging section for the logging package.
func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, FilePath: c.FilePath}
}

// NewDefaultConfig returns a Config with defaults applied.
func NewDefaultConfig() *Config {
	return &Config{
		Spec: SpecConfig{
			Path:       "openapi.json",
			ToolPrefix: "API-",
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      ":8080",
		},
		HTTP: HTTPConfig{
			Headers:   map[string]string{},
			UserAgent: "openapi-mcp-proxy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration with priority: defaults -> file -> env.
// A missing file is only an error when path is not DefaultPath.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies OPENAPI_* environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv(EnvSpecPath); p != "" {
		cfg.Spec.Path = p
	}
	if u := os.Getenv(EnvBaseURL); u != "" {
		cfg.Spec.BaseURL = u
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(cfg *Config, specPath, baseURL, logLevel string) {
	if specPath != "" {
		cfg.Spec.Path = specPath
	}
	if baseURL != "" {
		cfg.Spec.BaseURL = baseURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// OutboundHeaders returns the static headers attached to every API request:
// configured headers, then rendered auth headers, then OPENAPI_MCP_HEADERS.
func (c *Config) OutboundHeaders(logger *log.Logger) (map[string]string, error) {
	logger = logging.OrSilent(logger)

	headers := make(map[string]string, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		headers[k] = Render(v, os.LookupEnv)
	}

	auth, err := c.Auth.Headers(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	for k, v := range auth {
		headers[k] = v
	}

	for k, v := range parseHeadersJSON(os.Getenv(EnvHeaders), logger) {
		headers[k] = v
	}

	return headers, nil
}

// parseHeadersJSON parses a JSON object of header values. Malformed input and
// non-string values are skipped with a warning.
func parseHeadersJSON(raw string, logger *log.Logger) map[string]string {
	if raw == "" {
		logger.Debug().Msgf("no %s environment variable found", EnvHeaders)
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		logger.Warn().Err(err).Msgf("failed to parse %s, it must be a JSON object", EnvHeaders)
		return nil
	}

	headers := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			logger.Warn().Str("header", k).Msg("header value is not a string, skipping")
			continue
		}
		headers[k] = s
	}
	logger.Info().Int("count", len(headers)).Msgf("parsed headers from %s", EnvHeaders)
	return headers
}

// normalizeTransport returns "stdio" or "http".
func normalizeTransport(t string) string {
	if strings.EqualFold(t, "http") {
		return "http"
	}
	return "stdio"
}

// UseHTTP reports whether the streamable HTTP transport is selected.
func (s ServerConfig) UseHTTP() bool {
	return normalizeTransport(s.Transport) == "http"
}
