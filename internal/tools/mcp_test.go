package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"studio-backend/internal/config"
)

func TestErrorHandlerConvertsErrorResults(t *testing.T) {
	handler := CreateMCPErrorHandler("fs")

	res, err := handler(context.Background(), "read_file", &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("EACCES: permission denied")},
		IsError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("result = %+v", res)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	isErr, parsed := IsMCPErrorResult(text.Text)
	if !isErr {
		t.Fatalf("not recognized: %s", text.Text)
	}
	if parsed.ToolName != "read_file" || !strings.Contains(parsed.ErrorMessage, "permission denied") ||
		!strings.Contains(parsed.ErrorMessage, "credentials") {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestErrorHandlerPassesSuccess(t *testing.T) {
	in := &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}
	out, err := CreateMCPErrorHandler("fs")(context.Background(), "ls", in)
	if err != nil || out != in {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
}

func TestErrorHandlerEmptyMessage(t *testing.T) {
	out, _ := CreateMCPErrorHandler("fs")(context.Background(), "ls", &mcp.CallToolResult{IsError: true})
	_, parsed := IsMCPErrorResult(out.Content[0].(mcp.TextContent).Text)
	if parsed == nil || parsed.ErrorMessage != "MCP tool execution failed" {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestIsMCPErrorResult(t *testing.T) {
	cases := map[string]bool{
		`plain text`:                                 false,
		`{"files":["a"]}`:                            false,
		`{"success":true,"error":true}`:              false,
		` {"success":false,"error":true,"error_message":"x"}`: true,
		`{broken`: false,
	}
	for in, want := range cases {
		if got, _ := IsMCPErrorResult(in); got != want {
			t.Errorf("IsMCPErrorResult(%q) = %v", in, got)
		}
	}
}

func TestConnectRejectsUnknownTransport(t *testing.T) {
	_, err := Connect(context.Background(), config.MCPServerConfig{Name: "x", Transport: "carrier-pigeon"}, time.Second)
	if !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadServersDisabled(t *testing.T) {
	servers := LoadServers(context.Background(), config.MCPConfig{
		Enabled: false,
		Servers: []config.MCPServerConfig{{Name: "x", Transport: "sse", URL: "http://127.0.0.1:1/sse"}},
	})
	if servers != nil {
		t.Fatalf("servers = %v", servers)
	}
	CloseServers(servers)
}
