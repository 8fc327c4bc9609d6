package model

import (
	"encoding/json"
	"time"
)

// TurnResponse identifies the messages of a turn that runs in the background.
type TurnResponse struct {
	SessionID   string `json:"session_id"`
	ConvID      string `json:"conv_id"`
	InputMsgID  string `json:"input_msg_id"`
	OutputMsgID string `json:"output_msg_id"`
}

type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	CollectionID string    `json:"collection_id,omitempty"`
	VideoID      string    `json:"video_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type SessionDetailResponse struct {
	SessionResponse
	Messages []*MessageRecord `json:"messages"`
}

type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ConfigCheckResponse struct {
	ModelProvider string          `json:"model_provider"`
	Storage       string          `json:"storage"`
	Backends      map[string]bool `json:"backends"`
	MCPServers    []string        `json:"mcp_servers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageRecord is the persisted and broadcast snapshot of a progress
// message. Content holds the encoded content variants in order.
type MessageRecord struct {
	ID         string            `json:"msg_id"`
	SessionID  string            `json:"session_id"`
	ConvID     string            `json:"conv_id"`
	MsgType    string            `json:"msg_type"`
	Status     string            `json:"status"`
	Actions    []string          `json:"actions"`
	AgentNames []string          `json:"agents"`
	Content    []json.RawMessage `json:"content"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DataEvent tells observers of a conversation that media they may be
// showing changed. Update names what changed: collections, videos, images
// or audios; CollectionID scopes the last three.
type DataEvent struct {
	EventType    string `json:"event_type"`
	Update       string `json:"update"`
	CollectionID string `json:"collection_id,omitempty"`
}

type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CollectionID string    `json:"collection_id,omitempty"`
	VideoID      string    `json:"video_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
