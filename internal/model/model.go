package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"

	"studio-backend/internal/config"
	"studio-backend/internal/utils"
	"studio-backend/pkg/logger"
)

// NewChatModel builds the chat model of the configured provider. Tools are
// passed per call with einoModel.WithTools, so one model serves concurrent
// turns.
func NewChatModel(ctx context.Context, cfg *config.Config) (einoModel.ChatModel, error) {
	switch cfg.Model.Provider {
	case "doubao":
		return createDoubaoModel(ctx, cfg.Doubao)
	case "openai":
		return newOpenAIChatModel(cfg.OpenAI)
	case "qwen":
		return createQwenModel(ctx, cfg.Qwen)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
}

func maskKey(key string) string {
	if len(key) > 10 {
		return key[:10] + "..."
	}
	return "***"
}

func createDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using Doubao API Key: %s, Model: %s", maskKey(cfg.APIKey), cfg.Model)

	mc := &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if cfg.MaxTokens > 0 {
		mc.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		mc.Temperature = &cfg.Temperature
	}
	if cfg.Timeout > 0 {
		mc.Timeout = &cfg.Timeout
	}

	chatModel, err := ark.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Doubao model: %w", err)
	}
	return chatModel, nil
}

func createQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.ChatModel, error) {
	logger.Infof("Using Qwen API Key: %s, Model: %s, BaseURL: %s", maskKey(cfg.APIKey), cfg.Model, cfg.BaseURL)

	// HTTP client that can log request bodies in debug mode
	httpClient := utils.NewHTTPClient(cfg.Timeout, func(base http.RoundTripper) http.RoundTripper {
		return NewDebugTransport(base, "qwen", cfg.Debug)
	})

	mc := &qwen.ChatModelConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: httpClient,
	}
	if cfg.MaxTokens > 0 {
		mc.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		mc.Temperature = &cfg.Temperature
	}
	if cfg.TopP > 0 {
		mc.TopP = &cfg.TopP
	}

	chatModel, err := qwen.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qwen model: %w", err)
	}
	if cfg.Debug {
		logger.Info("Qwen debug transport enabled for request body logging")
	}
	return chatModel, nil
}

// DebugTransport logs POST bodies with sensitive fields masked.
type DebugTransport struct {
	base    http.RoundTripper
	name    string
	enabled bool
}

func NewDebugTransport(base http.RoundTripper, name string, enabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, name: name, enabled: enabled}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.enabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.enabled {
		logger.WithFields(map[string]interface{}{"backend": t.name}).Errorf("Request failed: %v", err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	fields := map[string]interface{}{
		"backend": t.name,
		"method":  req.Method,
		"url":     req.URL.String(),
	}
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			fields["header."+name] = "[REDACTED]"
		} else {
			fields["header."+name] = strings.Join(values, ", ")
		}
	}

	if req.Body != nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("Failed to read request body: %v", err)
			return
		}
		// restore the body for the real request
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		fields["body_size"] = len(bodyBytes)
		fields["body"] = SanitizeJSON(string(bodyBytes))
	}

	logger.WithFields(fields).Debug("Outgoing model request")
}

var sensitiveField = regexp.MustCompile(`"(api_key|apiKey|password|secret|token)"\s*:\s*"[^"]*"`)

// SanitizeJSON masks the values of sensitive fields.
func SanitizeJSON(s string) string {
	return sensitiveField.ReplaceAllString(s, `"$1": "[REDACTED]"`)
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-auth-token", "cookie", "xi-api-key", "x-access-token":
		return true
	}
	return false
}
