package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"studio-backend/pkg/logger"
)

// MCPErrorResult is the normalized form of an MCP tool error.
type MCPErrorResult struct {
	Success      bool   `json:"success"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	ToolName     string `json:"tool_name"`
}

// CreateMCPErrorHandler converts an MCP error result into a normal result
// carrying an MCPErrorResult, so the tool call itself does not fail and the
// caller can still report the server's message.
func CreateMCPErrorHandler(server string) func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
		if result == nil || !result.IsError {
			return result, nil
		}

		msg := extractErrorMessage(result)
		logger.WithFields(map[string]interface{}{"server": server, "tool": name}).Warnf("MCP tool returned an error: %s", msg)

		errorJSON, err := json.Marshal(MCPErrorResult{
			Success:      false,
			Error:        true,
			ErrorMessage: msg,
			ToolName:     name,
		})
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(errorJSON))},
			IsError: false,
		}, nil
	}
}

// extractErrorMessage collects the text content of an MCP result.
func extractErrorMessage(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	msg := strings.TrimSpace(strings.Join(parts, "\n"))
	if msg == "" {
		return "MCP tool execution failed"
	}
	if isPermissionError(msg) {
		return msg + " (check the MCP server's credentials and allowed scope)"
	}
	return msg
}

// IsMCPErrorResult reports whether a tool output is an MCPErrorResult.
func IsMCPErrorResult(resultText string) (bool, *MCPErrorResult) {
	trimmed := strings.TrimSpace(resultText)
	if !strings.HasPrefix(trimmed, "{") {
		return false, nil
	}
	var errorResult MCPErrorResult
	if err := json.Unmarshal([]byte(trimmed), &errorResult); err != nil {
		return false, nil
	}
	if errorResult.Error && !errorResult.Success {
		return true, &errorResult
	}
	return false, nil
}

func isPermissionError(errorMsg string) bool {
	errorMsg = strings.ToLower(errorMsg)
	for _, indicator := range []string{
		"permission denied",
		"access denied",
		"forbidden",
		"unauthorized",
		"eacces",
	} {
		if strings.Contains(errorMsg, indicator) {
			return true
		}
	}
	return false
}
