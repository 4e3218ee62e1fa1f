package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zijiren233/openapi-mcp-proxy/client"
	"github.com/zijiren233/openapi-mcp-proxy/config"
	"github.com/zijiren233/openapi-mcp-proxy/convert"
	"github.com/zijiren233/openapi-mcp-proxy/logging"
	"github.com/zijiren233/openapi-mcp-proxy/proxy"
)

// loadConfig applies defaults, the config file, the environment and then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	specPath, _ := flags.GetString("spec")
	baseURL, _ := flags.GetString("base-url")
	logLevel, _ := flags.GetString("log-level")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	config.ApplyFlagOverrides(cfg, specPath, baseURL, logLevel)

	if transport, _ := flags.GetString("transport"); transport != "" {
		cfg.Server.Transport = transport
	}
	if addr, _ := flags.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

// loadDocument parses the interface document and converts it to tools.
func loadDocument(cfg *config.Config, logger *log.Logger) (*convert.Parser, *convert.Result, error) {
	parser := convert.NewParser()

	var err error
	if cfg.Spec.Swagger2 {
		err = parser.ParseFileV2(cfg.Spec.Path)
	} else {
		err = parser.ParseFile(cfg.Spec.Path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", cfg.Spec.Path, err)
	}

	result, err := convert.NewConverter(parser, convert.Options{
		ToolNamePrefix:         cfg.Spec.ToolPrefix,
		IncludeTags:            cfg.Spec.IncludeTags,
		ExcludeTags:            cfg.Spec.ExcludeTags,
		SynthesizeOperationIDs: cfg.Spec.SynthesizeOperationIDs,
		Logger:                 logger,
	}).Convert()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert OpenAPI document: %w", err)
	}
	return parser, result, nil
}

func buildProxy(cfg *config.Config, logger *log.Logger, metrics *proxy.Metrics) (*proxy.Proxy, error) {
	parser, result, err := loadDocument(cfg, logger)
	if err != nil {
		return nil, err
	}

	baseURL, err := parser.BaseURL(cfg.Spec.BaseURL)
	if err != nil {
		return nil, err
	}

	headers, err := cfg.OutboundHeaders(logger)
	if err != nil {
		return nil, err
	}

	executor, err := client.New(client.Config{
		BaseURL:   baseURL,
		Headers:   headers,
		UserAgent: cfg.HTTP.UserAgent,
	}, logger)
	if err != nil {
		return nil, err
	}

	name, ver := cfg.Server.Name, cfg.Server.Version
	if info := parser.GetInfo(); info != nil {
		if name == "" {
			name = info.Title
		}
		if ver == "" {
			ver = info.Version
		}
	}
	if name == "" {
		name = "openapi-mcp-proxy"
	}
	if ver == "" {
		ver = version
	}

	logger.Info().Str("base_url", baseURL).Str("spec", cfg.Spec.Path).Msg("upstream configured")

	return proxy.New(result, executor, proxy.Options{
		Name:    name,
		Version: ver,
		Logger:  logger,
		Metrics: metrics,
	}), nil
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Logging())

	if !cfg.Server.UseHTTP() {
		p, err := buildProxy(cfg, logger, nil)
		if err != nil {
			return err
		}
		logger.Info().Msg("serving MCP over stdio")
		return server.ServeStdio(p.Server())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p, err := buildProxy(cfg, logger, proxy.NewMetrics(reg))
	if err != nil {
		return err
	}
	return serveHTTP(cmd.Context(), cfg.Server.Addr, p, reg, logger)
}

func serveHTTP(ctx context.Context, addr string, p *proxy.Proxy, reg *prometheus.Registry, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(p.Server(), server.WithStateLess(true)))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("serving MCP over streamable HTTP on /mcp")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runTools(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Logging())

	_, result, err := loadDocument(cfg, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result.Tools)
}
