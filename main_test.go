package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zijiren233/openapi-mcp-proxy/config"
	"github.com/zijiren233/openapi-mcp-proxy/convert"
	"github.com/zijiren233/openapi-mcp-proxy/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestToolsCommand(t *testing.T) {
	t.Setenv(config.EnvSpecPath, "")
	t.Setenv(config.EnvBaseURL, "")

	path := writeConfig(t, `
[spec]
path = "convert/testdata/items.json"
tool_prefix = "items-"

[logging]
level = "error"
`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tools", "--config", path})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	var tools []convert.Tool
	require.NoError(t, json.Unmarshal(out.Bytes(), &tools))
	require.NotEmpty(t, tools)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "items-getItem")
	assert.Contains(t, names, "items-createItem")
}

func TestBuildProxy(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Spec.Path = "convert/testdata/items.json"
	cfg.Server.Name = "items"

	p, err := buildProxy(cfg, logging.NewSilent(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ListTools())
}

func TestBuildProxyMissingSpec(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Spec.Path = filepath.Join(t.TempDir(), "missing.json")

	_, err := buildProxy(cfg, logging.NewSilent(), nil)
	require.Error(t, err)
}
