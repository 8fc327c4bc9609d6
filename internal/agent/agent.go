// Package agent defines the contract every invocable agent implements, its
// declarative parameter schema, the name-keyed registry and the typed turn
// environment agents run in.
package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrInvalidSpec    = errors.New("invalid agent spec")
	ErrInvalidParams  = errors.New("invalid agent parameters")
)

// Agent is a named unit of work. Run mutates the turn's output message
// through its Env and returns a result usable for chaining.
type Agent interface {
	Spec() Spec
	Run(ctx context.Context, params Params) Result
}

// Factory binds an agent to a turn environment.
type Factory func(env *Env) Agent

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is what an agent hands back to its caller.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`

	err error
}

func Success(message string, data map[string]any) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

// Failure wraps err as an error result; Err returns it unchanged so callers
// can still use errors.Is.
func Failure(err error) Result {
	return Result{Status: StatusError, Message: err.Error(), err: err}
}

// FailureWith is Failure carrying the data of the work completed before err.
func FailureWith(err error, data map[string]any) Result {
	r := Failure(err)
	r.Data = data
	return r
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.New(r.Message)
}

// StageError is a failure inside a multi-stage agent, tagged with the stage
// that failed and its index (scene number, workflow step).
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("%s %d: %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
