// Package proxy exposes converted operations as MCP tools and routes tool
// calls to an Executor.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/phuslu/log"

	"github.com/zijiren233/openapi-mcp-proxy/client"
	"github.com/zijiren233/openapi-mcp-proxy/convert"
	"github.com/zijiren233/openapi-mcp-proxy/logging"
)

var (
	// ErrToolNotFound is returned for calls to names that were never listed.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when call arguments are not a JSON object.
	ErrInvalidArguments = errors.New("tool arguments must be an object")
)

// Executor performs one upstream call for an operation.
type Executor interface {
	Execute(ctx context.Context, op *convert.OperationInfo, args map[string]any) (*client.Response, error)
}

type Options struct {
	Name    string
	Version string
	Logger  *log.Logger
	Metrics *Metrics
}

// Proxy owns the tool registry. The registry is built in New and only read
// afterwards, so calls may run concurrently.
type Proxy struct {
	server   *server.MCPServer
	tools    []mcp.Tool
	registry map[string]*convert.OperationInfo
	executor Executor
	logger   *log.Logger
	metrics  *Metrics
}

// New registers one tool per converted operation on a fresh MCP server.
func New(result *convert.Result, executor Executor, opts Options) *Proxy {
	p := &Proxy{
		server: server.NewMCPServer(
			opts.Name,
			opts.Version,
			server.WithToolCapabilities(true),
		),
		registry: make(map[string]*convert.OperationInfo, len(result.Lookup)),
		executor: executor,
		logger:   logging.OrSilent(opts.Logger),
		metrics:  opts.Metrics,
	}

	serverTools := make([]server.ServerTool, 0, len(result.Tools))
	for _, def := range result.Tools {
		info := result.Lookup[def.Name]
		if info == nil {
			p.logger.Warn().Str("tool", def.Name).Msg("tool has no operation, skipping")
			continue
		}

		name := convert.TruncateName(def.Name)
		if _, dup := p.registry[name]; dup {
			p.logger.Warn().Str("tool", name).Msg("duplicate tool name after truncation, skipping")
			continue
		}

		inputSchema, err := json.Marshal(def.InputSchema)
		if err != nil {
			p.logger.Error().Err(err).Str("tool", name).Msg("failed to encode input schema, skipping")
			continue
		}

		tool := mcp.NewToolWithRawSchema(name, def.Description, inputSchema)
		p.registry[name] = info
		p.tools = append(p.tools, tool)
		serverTools = append(serverTools, server.ServerTool{Tool: tool, Handler: p.handleCallTool})
	}
	p.server.AddTools(serverTools...)

	p.logger.Info().Int("tools", len(p.tools)).Str("server", opts.Name).Msg("registered tools")
	return p
}

// Server returns the MCP server for a transport to serve.
func (p *Proxy) Server() *server.MCPServer {
	return p.server
}

// ListTools returns the registered tools in listing order.
func (p *Proxy) ListTools() []mcp.Tool {
	return append([]mcp.Tool(nil), p.tools...)
}

func (p *Proxy) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return p.CallTool(ctx, request.Params.Name, request.Params.Arguments)
}

// CallTool executes the named tool. Unknown names and non-object arguments are
// returned as errors; upstream and execution failures are returned as tool
// results with IsError set.
func (p *Proxy) CallTool(ctx context.Context, name string, arguments any) (*mcp.CallToolResult, error) {
	info, ok := p.registry[name]
	if !ok {
		p.metrics.recordCall(name, OutcomeRejected, 0)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args, err := toArguments(arguments)
	if err != nil {
		p.metrics.recordCall(name, OutcomeRejected, 0)
		return nil, err
	}

	callID := uuid.NewString()
	p.logger.Info().
		Str("call_id", callID).
		Str("tool", name).
		Str("method", info.Method).
		Str("path", info.Path).
		Msg("tool call")

	start := time.Now()
	resp, err := p.executor.Execute(ctx, info, args)
	duration := time.Since(start)

	if err != nil {
		if client.IsRequestFailed(err) {
			var execErr *client.Error
			errors.As(err, &execErr)
			p.logger.Error().
				Str("call_id", callID).
				Str("tool", name).
				Int("status", execErr.Status).
				Dur("duration", duration).
				Msg("upstream request failed")
			p.metrics.recordCall(name, OutcomeUpstreamError, duration)
			return errorResult(upstreamErrorPayload(execErr)), nil
		}

		p.logger.Error().Err(err).Str("call_id", callID).Str("tool", name).Dur("duration", duration).Msg("tool call failed")
		p.metrics.recordCall(name, OutcomeFailure, duration)
		return errorResult(failurePayload(err)), nil
	}

	p.logger.Info().
		Str("call_id", callID).
		Str("tool", name).
		Int("status", resp.Status).
		Dur("duration", duration).
		Msg("tool call completed")
	p.metrics.recordCall(name, OutcomeSuccess, duration)

	text, err := json.Marshal(resp.Data)
	if err != nil {
		return errorResult(failurePayload(fmt.Errorf("failed to encode response: %w", err))), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(text))},
	}, nil
}

func toArguments(arguments any) (map[string]any, error) {
	switch v := arguments.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		var args map[string]any
		if err := json.Unmarshal(v, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidArguments, arguments)
	}
}

// upstreamErrorPayload prefers the upstream error body over a generic message.
func upstreamErrorPayload(err *client.Error) any {
	if err.Data != nil {
		return err.Data
	}
	return map[string]any{
		"status":  "error",
		"message": fmt.Sprintf("HTTP %d error", err.Status),
	}
}

func failurePayload(err error) any {
	payload := map[string]any{
		"status":  "error",
		"message": err.Error(),
	}
	if kind := client.KindOf(err); kind != "" {
		payload["kind"] = string(kind)
	}
	return payload
}

func errorResult(payload any) *mcp.CallToolResult {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(fmt.Sprintf(`{"status":"error","message":%q}`, err.Error()))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(text))},
		IsError: true,
	}
}
