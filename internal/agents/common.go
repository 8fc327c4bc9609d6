// Package agents holds the concrete agents and the registry of built-ins.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

// call bounds a backend call with the turn's stage timeout.
func call[T any](ctx context.Context, env *agent.Env, name, op string, fn func(context.Context) (T, error)) (T, error) {
	return backend.Call(ctx, env.StageTimeout(), name, op, fn)
}

// callSaving is call for backends writing into path: a call that outlives
// its timeout has path removed once it finishes.
func callSaving[T any](ctx context.Context, env *agent.Env, remove func(string) error, path, name, op string, fn func(context.Context) (T, error)) (T, error) {
	return backend.CallAbandoned(ctx, env.StageTimeout(), name, op, fn, func() {
		removeQuietly(remove, path)
	})
}

// generate asks the text backend for an answer to the rendered template.
func generate(ctx context.Context, env *agent.Env, tpl string, vars map[string]any, format backend.Format) (string, error) {
	if env.Backends.Text == nil {
		return "", &backend.Error{Backend: "llm", Op: "generate", Err: backend.ErrNotConfigured}
	}
	text, err := renderPrompt(ctx, tpl, vars)
	if err != nil {
		return "", err
	}
	return call(ctx, env, "llm", "generate", func(ctx context.Context) (string, error) {
		return env.Backends.Text.Generate(ctx, text, format)
	})
}

// renderPrompt formats an FString template; literal braces are doubled.
func renderPrompt(ctx context.Context, tpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.FString, schema.UserMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("render prompt: no message")
	}
	return msgs[0].Content, nil
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// tempPath returns a fresh file path under the downloads directory.
func tempPath(env *agent.Env, ext string) (string, error) {
	dir := env.Backends.DownloadsDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}
	return filepath.Join(dir, uuid.NewString()+ext), nil
}

func removeQuietly(remove func(string) error, path string) {
	if err := remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("remove temp file %s: %v", path, err)
	}
}

func newText(agentName, text string) *session.TextContent {
	tc := session.NewTextContent(agentName, "")
	tc.Text = text
	return tc
}

// addContent appends c to the output message and pushes the update.
func addContent(env *agent.Env, c session.Content) {
	out := env.Output()
	if err := out.AddContent(c); err != nil {
		logger.Warnf("drop content on message %s: %v", out.ID(), err)
		return
	}
	out.PushUpdate()
}

// settle moves c to its final status and pushes the update.
func settle(env *agent.Env, c session.Content, err error, statusMessage string) {
	b := c.Base()
	if err != nil {
		_ = b.Fail(statusMessage)
	} else {
		_ = b.Succeed(statusMessage)
	}
	out := env.Output()
	if terr := out.Touch(); terr != nil {
		logger.Warnf("touch message %s: %v", out.ID(), terr)
		return
	}
	out.PushUpdate()
}
