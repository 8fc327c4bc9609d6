package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"studio-backend/internal/config"
	"studio-backend/pkg/logger"
)

type openaiChatModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	tools       []*schema.ToolInfo
}

func newOpenAIChatModel(cfg config.OpenAIConfig) (*openaiChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is empty")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	logger.Infof("Using OpenAI Model: %s", cfg.Model)

	return &openaiChatModel{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (m *openaiChatModel) request(messages []*schema.Message, opts []einoModel.Option) (openai.ChatCompletionRequest, error) {
	options := einoModel.GetCommonOptions(&einoModel.Options{Tools: m.tools}, opts...)

	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    convertMessages(messages),
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	tools, err := convertTools(options.Tools)
	if err != nil {
		return req, err
	}
	req.Tools = tools
	return req, nil
}

// Generate implements the eino ChatModel interface, including function calling.
func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}
	logger.Debugf("OpenAI Generate: model=%s messages=%d tools=%d", req.Model, len(req.Messages), len(req.Tools))

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	choice := resp.Choices[0].Message
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Content,
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, err)
				return
			}
			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				writer.Send(&schema.Message{
					Role:    schema.Assistant,
					Content: response.Choices[0].Delta.Content,
				}, nil)
			}
		}
	}()

	return reader, nil
}

func (m *openaiChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.tools = tools
	return nil
}

func convertTools(infos []*schema.ToolInfo) ([]openai.Tool, error) {
	if len(infos) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(infos))
	for _, info := range infos {
		var params interface{} = json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("convert parameters of %s: %w", info.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// convertMessages converts eino messages to the OpenAI wire format.
func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		om := openai.ChatCompletionMessage{Content: msg.Content}
		switch msg.Role {
		case schema.System:
			om.Role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			om.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			// The API rejects an assistant message with neither text nor tool calls.
			if om.Content == "" && len(om.ToolCalls) == 0 {
				continue
			}
		case schema.Tool:
			om.Role = openai.ChatMessageRoleTool
			om.ToolCallID = msg.ToolCallID
		default:
			om.Role = openai.ChatMessageRoleUser
		}
		result = append(result, om)
	}
	return result
}
