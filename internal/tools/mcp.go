// Package tools connects to the configured MCP servers and exposes their
// tools as eino invokable tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	einoMcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"studio-backend/internal/config"
	"studio-backend/pkg/logger"
)

const (
	TransportSSE   = "sse"
	TransportStdio = "stdio"

	defaultConnectTimeout = 30 * time.Second
	clientVersion         = "1.0.0"
)

var ErrUnknownTransport = errors.New("unknown mcp transport")

// Server is a connected MCP server and its tools.
type Server struct {
	Name  string
	Tools []tool.InvokableTool

	cli *client.Client
}

func (s *Server) Close() error {
	if s.cli == nil {
		return nil
	}
	return s.cli.Close()
}

func newClient(ctx context.Context, sc config.MCPServerConfig) (*client.Client, error) {
	switch sc.Transport {
	case TransportSSE, "":
		cli, err := client.NewSSEMCPClient(sc.URL)
		if err != nil {
			return nil, err
		}
		if err := cli.Start(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("start sse client: %w", err)
		}
		return cli, nil
	case TransportStdio:
		// The stdio client starts its subprocess on creation; no Start call.
		return client.NewStdioMCPClient(sc.Command, sc.Env, sc.Args...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, sc.Transport)
	}
}

// Connect initializes one server and lists its tools.
func Connect(ctx context.Context, sc config.MCPServerConfig, timeout time.Duration) (*Server, error) {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	// The SSE stream lives as long as the ctx passed to Start, so it must not be the timeout ctx.
	cli, err := newClient(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", sc.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "studio-backend-" + sc.Name,
		Version: clientVersion,
	}
	if _, err := cli.Initialize(ctx, initRequest); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", sc.Name, err)
	}

	baseTools, err := einoMcp.GetTools(ctx, &einoMcp.Config{
		Cli:                   cli,
		ToolCallResultHandler: CreateMCPErrorHandler(sc.Name),
	})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("list tools of mcp server %s: %w", sc.Name, err)
	}

	s := &Server{Name: sc.Name, cli: cli}
	for _, bt := range baseTools {
		it, ok := bt.(tool.InvokableTool)
		if !ok {
			continue
		}
		s.Tools = append(s.Tools, it)
	}
	return s, nil
}

// LoadServers connects every configured server. A server that cannot be
// reached is logged and skipped.
func LoadServers(ctx context.Context, cfg config.MCPConfig) []*Server {
	if !cfg.Enabled {
		return nil
	}
	var servers []*Server
	for _, sc := range cfg.Servers {
		s, err := Connect(ctx, sc, cfg.Timeout)
		if err != nil {
			logger.Warnf("MCP server %s not available: %v", sc.Name, err)
			continue
		}
		logger.Infof("MCP server %s connected, %d tools", sc.Name, len(s.Tools))
		servers = append(servers, s)
	}
	return servers
}

// CloseServers closes every server, logging failures.
func CloseServers(servers []*Server) {
	for _, s := range servers {
		if err := s.Close(); err != nil {
			logger.Warnf("close MCP server %s: %v", s.Name, err)
		}
	}
}
