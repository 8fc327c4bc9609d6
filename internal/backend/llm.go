package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const jsonInstruction = "Respond with a single valid JSON value and nothing else. Do not wrap it in markdown."

// ChatText adapts an eino chat model to TextGenerator.
type ChatText struct {
	model einoModel.BaseChatModel
}

func NewChatText(m einoModel.BaseChatModel) *ChatText {
	return &ChatText{model: m}
}

func (t *ChatText) Generate(ctx context.Context, prompt string, format Format) (string, error) {
	var msgs []*schema.Message
	if format == FormatJSON {
		msgs = append(msgs, schema.SystemMessage(jsonInstruction))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	resp, err := t.model.Generate(ctx, msgs)
	if err != nil {
		return "", Wrap("llm", "generate", err)
	}

	out := strings.TrimSpace(resp.Content)
	if format == FormatJSON {
		out = ExtractJSON(out)
		if !json.Valid([]byte(out)) {
			return "", &Error{Backend: "llm", Op: "generate", Err: fmt.Errorf("%w: answer is not JSON", ErrMalformedResponse)}
		}
	}
	return out, nil
}
