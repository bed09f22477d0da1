package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/chatmem/internal/config"
	"github.com/comigor/chatmem/internal/logger"
)

// MCPClientInterface defines the methods we expect from an MCP client.
type MCPClientInterface interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// mcpTool adapts one tool exported by an MCP server to the Tool interface.
type mcpTool struct {
	name        string
	description string
	schema      json.RawMessage
	client      MCPClientInterface
}

func (t *mcpTool) Name() string                { return t.name }
func (t *mcpTool) Description() string         { return t.description }
func (t *mcpTool) Parameters() json.RawMessage { return t.schema }

func (t *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.name, err)
	}
	if result == nil {
		return "", fmt.Errorf("mcp call %s: empty result", t.name)
	}

	text := firstText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool execution failed without detail"
		}
		return "", fmt.Errorf("mcp call %s: %s", t.name, text)
	}
	if text != "" {
		return text, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: encode result: %w", t.name, err)
	}
	return string(encoded), nil
}

func firstText(content []mcp.Content) string {
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// RegisterMCPServers connects to each configured MCP server, discovers its
// tools, and registers them. Failures are logged and skipped: an
// unreachable server must not take down the whole registry. The returned
// closers shut down the client transports.
func RegisterMCPServers(ctx context.Context, reg *Registry, servers []config.MCPServerConfig) []func() error {
	var closers []func() error

	for _, serverCfg := range servers {
		mcpC, err := newMCPClient(serverCfg)
		if err != nil {
			logger.L.Error("failed to create MCP client", "name", serverCfg.Name, "error", err)
			continue
		}

		if serverCfg.Type != config.ClientTypeStdio {
			if err := mcpC.Start(ctx); err != nil {
				logger.L.Error("failed to start MCP client transport", "name", serverCfg.Name, "error", err)
				if cerr := mcpC.Close(); cerr != nil {
					logger.L.Warn("MCP client close error after start failure", "error", cerr)
				}
				continue
			}
		}

		initReq := mcp.InitializeRequest{
			Params: mcp.InitializeParams{Capabilities: mcp.ClientCapabilities{}},
		}
		if _, err := mcpC.Initialize(ctx, initReq); err != nil {
			logger.L.Error("failed to initialize MCP client", "name", serverCfg.Name, "error", err)
			if cerr := mcpC.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after init failure", "error", cerr)
			}
			continue
		}

		serverTools, err := mcpC.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			logger.L.Warn("failed to list tools for MCP client", "name", serverCfg.Name, "error", err)
		}

		registered := 0
		if serverTools != nil {
			for _, t := range serverTools.Tools {
				reg.Register(&mcpTool{
					name:        t.Name,
					description: t.Description,
					schema:      toolSchema(t),
					client:      mcpC,
				})
				registered++
			}
		}
		logger.L.Info("MCP server attached", "name", serverCfg.Name, "tools", registered)
		closers = append(closers, mcpC.Close)
	}

	return closers
}

func newMCPClient(serverCfg config.MCPServerConfig) (*client.Client, error) {
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(serverCfg.Headers))
		}
		return client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		return client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q (want sse, streamable_http or stdio)", serverCfg.Type)
	}
}

// toolSchema extracts a usable parameter schema from an MCP tool
// definition, falling back to an empty object schema.
func toolSchema(t mcp.Tool) json.RawMessage {
	empty := json.RawMessage(`{"type": "object", "properties": {}}`)

	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		return t.RawInputSchema
	}
	schemaBytes, err := json.Marshal(t.InputSchema)
	if err != nil {
		logger.L.Warn("failed to marshal input schema for tool; using empty schema", "tool", t.Name, "error", err)
		return empty
	}
	if s := string(schemaBytes); s == "{}" || s == "null" {
		return empty
	}
	return schemaBytes
}
