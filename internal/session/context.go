package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"studio-backend/internal/model"
)

// MessageContent is either plain text or a list of structured parts. A
// non-nil Parts slice selects the structured form, even when empty.
type MessageContent struct {
	Text  string
	Parts []model.MessagePart
}

func TextOf(s string) MessageContent { return MessageContent{Text: s} }

func PartsOf(parts ...model.MessagePart) MessageContent {
	if parts == nil {
		parts = []model.MessagePart{}
	}
	return MessageContent{Parts: parts}
}

func (c MessageContent) IsStructured() bool { return c.Parts != nil }

func (c MessageContent) IsEmpty() bool { return c.Text == "" && len(c.Parts) == 0 }

// PlainText joins the text of all parts.
func (c MessageContent) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = MessageContent{}
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '[':
		parts := []model.MessagePart{}
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		c.Parts = parts
		return nil
	default:
		return json.Unmarshal(data, &c.Text)
	}
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ContextEntry is one role-tagged turn of the conversation context.
type ContextEntry struct {
	Role       Role           `json:"role"`
	Content    MessageContent `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

func SystemEntry(text string) ContextEntry {
	return ContextEntry{Role: RoleSystem, Content: TextOf(text)}
}

func UserEntry(content MessageContent) ContextEntry {
	return ContextEntry{Role: RoleUser, Content: content}
}

func AssistantEntry(text string, calls []ToolCall) (ContextEntry, error) {
	e := ContextEntry{Role: RoleAssistant, Content: TextOf(text), ToolCalls: calls}
	return e, e.Validate()
}

// ToolEntry answers the tool call identified by callID.
func ToolEntry(callID, text string) (ContextEntry, error) {
	e := ContextEntry{Role: RoleTool, Content: TextOf(text), ToolCallID: callID}
	return e, e.Validate()
}

func (e ContextEntry) Validate() error {
	switch e.Role {
	case RoleSystem, RoleUser:
	case RoleAssistant:
		for i, tc := range e.ToolCalls {
			if tc.ID == "" || tc.Function.Name == "" {
				return fmt.Errorf("%w: call %d needs id and function name", ErrInvalidToolCall, i)
			}
		}
	case RoleTool:
		if strings.TrimSpace(e.ToolCallID) == "" {
			return ErrMissingToolCallID
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, e.Role)
	}
	if e.Role != RoleAssistant && len(e.ToolCalls) > 0 {
		return fmt.Errorf("%w: only assistant entries carry tool calls", ErrInvalidToolCall)
	}
	return nil
}

// WireMessage is the shape of a context entry handed to the dispatcher.
type WireMessage struct {
	Role       Role           `json:"role"`
	Content    MessageContent `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ToWireForm converts e for the dispatcher. It panics on an unknown role;
// entries are validated when they enter a context.
func (e ContextEntry) ToWireForm() WireMessage {
	switch e.Role {
	case RoleSystem:
		return WireMessage{Role: RoleSystem, Content: e.Content}
	case RoleUser:
		return WireMessage{Role: RoleUser, Content: FormatUserMessage(e.Content)}
	case RoleAssistant:
		w := WireMessage{Role: RoleAssistant, Content: e.Content}
		if e.Content.IsEmpty() {
			w.Content = PartsOf()
		}
		if len(e.ToolCalls) > 0 {
			w.ToolCalls = append([]ToolCall(nil), e.ToolCalls...)
		}
		return w
	case RoleTool:
		return WireMessage{Role: RoleTool, Content: e.Content, ToolCallID: e.ToolCallID}
	default:
		panic(fmt.Sprintf("session: %v %q", ErrUnknownRole, e.Role))
	}
}

// FormatUserMessage replaces every non-text part with a text part describing
// the uploaded media, so no media payload reaches the dispatcher.
func FormatUserMessage(c MessageContent) MessageContent {
	if !c.IsStructured() {
		return c
	}
	parts := make([]model.MessagePart, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" {
			parts = append(parts, model.MessagePart{Type: "text", Text: p.Text})
			continue
		}
		parts = append(parts, model.MessagePart{Type: "text", Text: describeUpload(p)})
	}
	return MessageContent{Parts: parts}
}

func describeUpload(p model.MessagePart) string {
	details := map[string]string{}
	if p.ID != "" {
		details["id"] = p.ID
	}
	if p.Name != "" {
		details["name"] = p.Name
	}
	if p.Description != "" {
		details["description"] = p.Description
	}
	if p.CollectionID != "" {
		details["collection_id"] = p.CollectionID
	}
	if p.URL != "" {
		if strings.HasPrefix(p.URL, "data:") {
			details["url"] = "inline data omitted"
		} else {
			details["url"] = p.URL
		}
	}
	if p.Text != "" {
		details["text"] = p.Text
	}
	raw, _ := json.Marshal(details) // map[string]string always encodes
	kind := p.Type
	if kind == "" {
		kind = "media"
	}
	return fmt.Sprintf("User has uploaded %s with details: %s", kind, raw)
}
