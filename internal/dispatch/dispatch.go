// Package dispatch decides which agents a turn runs. The LLM dispatcher
// offers the agents as tools to a tool-calling chat model.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

var ErrNoModel = errors.New("dispatcher has no chat model")

// Call is one agent invocation chosen by the dispatcher.
type Call struct {
	ID        string
	AgentName string
	Arguments string
}

// Decision is either a plain reply (no calls) or a list of calls.
type Decision struct {
	Reply string
	Calls []Call
}

func (d *Decision) Final() bool { return len(d.Calls) == 0 }

// Dispatcher picks the next agent calls from the wire-form context.
type Dispatcher interface {
	Decide(ctx context.Context, history []session.WireMessage, tools []*schema.ToolInfo) (*Decision, error)
}

// LLM is a Dispatcher backed by a chat model. Tools are passed per call, so
// one model serves concurrent turns with different agent sets.
type LLM struct {
	model einoModel.ChatModel
}

func NewLLM(cm einoModel.ChatModel) *LLM {
	return &LLM{model: cm}
}

func (d *LLM) Decide(ctx context.Context, history []session.WireMessage, tools []*schema.ToolInfo) (*Decision, error) {
	if d.model == nil {
		return nil, ErrNoModel
	}
	msgs := ToSchemaMessages(history)

	var opts []einoModel.Option
	if len(tools) > 0 {
		opts = append(opts, einoModel.WithTools(tools))
	}
	resp, err := d.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("dispatcher: empty response")
	}

	decision := &Decision{Reply: resp.Content}
	for _, tc := range resp.ToolCalls {
		if tc.Function.Name == "" {
			logger.Warnf("dispatcher returned a tool call without a name, ignored")
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		decision.Calls = append(decision.Calls, Call{
			ID:        id,
			AgentName: tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return decision, nil
}

// ToSchemaMessages converts wire-form context to chat model messages.
// Structured user content is already text-only in wire form.
func ToSchemaMessages(history []session.WireMessage) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history))
	for _, w := range history {
		text := w.Content.PlainText()
		switch w.Role {
		case session.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(text))
		case session.RoleUser:
			msgs = append(msgs, schema.UserMessage(text))
		case session.RoleAssistant:
			calls := make([]schema.ToolCall, 0, len(w.ToolCalls))
			for _, tc := range w.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			msgs = append(msgs, schema.AssistantMessage(text, calls))
		case session.RoleTool:
			msgs = append(msgs, schema.ToolMessage(text, w.ToolCallID))
		}
	}
	return msgs
}

// ToContextCalls converts the decision's calls for an assistant context
// entry.
func (d *Decision) ToContextCalls() []session.ToolCall {
	calls := make([]session.ToolCall, 0, len(d.Calls))
	for _, c := range d.Calls {
		calls = append(calls, session.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: session.FunctionCall{Name: c.AgentName, Arguments: c.Arguments},
		})
	}
	return calls
}
