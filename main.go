package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zijiren233/openapi-mcp-proxy/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:     "openapi-mcp-proxy",
		Short:   "Expose an OpenAPI described HTTP API as MCP tools",
		Version: version,
		// Running without a subcommand serves.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the converted tools over stdio or streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "Print the converted tool definitions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd)
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultPath, "Path to the TOML config file")
	flags.String("spec", "", "Path to the OpenAPI document (overrides config and OPENAPI_SPEC_PATH)")
	flags.String("base-url", "", "Base URL of the upstream API (overrides config and OPENAPI_BASE_URL)")
	flags.String("log-level", "", "Log level: trace, debug, info, warn or error")

	serveCmd.Flags().String("transport", "", "Transport: stdio or http (overrides config)")
	serveCmd.Flags().String("addr", "", "Listen address for the http transport (overrides config)")

	rootCmd.AddCommand(serveCmd, toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
