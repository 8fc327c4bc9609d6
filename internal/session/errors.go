package session

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMessageFinalized  = errors.New("message already finalized")
	ErrImmutableMessage  = errors.New("input message is immutable")
	ErrMissingToolCallID = errors.New("tool entry requires tool_call_id")
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidToolCall   = errors.New("invalid tool call")
	ErrPublish           = errors.New("publish failed")
)
