package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Client speaks to one MCP server. Connect must succeed before CallTool.
type Client struct {
	config    Config
	transport *HTTPTransport
	logger    zerolog.Logger

	mu         sync.RWMutex
	serverInfo ServerInfo
	tools      []*Tool
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "agentpay"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	logger = logger.With().Str("mcp_server", cfg.URL).Logger()
	return &Client{
		config:    cfg,
		transport: NewHTTPTransport(cfg, logger),
		logger:    logger,
	}, nil
}

// Connect runs the initialize handshake and caches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    c.config.ClientName,
			"version": c.config.ClientVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverInfo = init.ServerInfo
	c.mu.Unlock()

	c.logger.Info().
		Str("name", init.ServerInfo.Name).
		Str("version", init.ServerInfo.Version).
		Str("protocol", init.ProtocolVersion).
		Msg("connected to MCP server")

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send initialized notification")
	}
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to list tools")
	}
	return nil
}

func (c *Client) RefreshTools(ctx context.Context) error {
	var all []*Tool
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		result, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return err
		}
		var page ListToolsResult
		if err := json.Unmarshal(result, &page); err != nil {
			return fmt.Errorf("parse tools/list: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()
	c.logger.Debug().Int("count", len(all)).Msg("refreshed tools")
	return nil
}

func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = raw
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var out ToolCallResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &out, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.transport.Close(ctx)
}
