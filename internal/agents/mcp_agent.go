package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/tool"

	"studio-backend/internal/agent"
	"studio-backend/internal/tools"
	"studio-backend/pkg/logger"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// MCPAgentName is the agent name of an MCP tool: mcp_<server>_<tool>,
// cut to the 64 characters tool names may have.
func MCPAgentName(server, toolName string) string {
	name := "mcp_" + invalidNameChars.ReplaceAllString(server, "_") + "_" + invalidNameChars.ReplaceAllString(toolName, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// MCPAgent runs one MCP tool. Its parameter schema is the tool's own and is
// passed to the dispatcher unchanged.
type MCPAgent struct {
	env    *agent.Env
	spec   agent.Spec
	server string
	tool   tool.InvokableTool
}

func (a *MCPAgent) Spec() agent.Spec { return a.spec }

func (a *MCPAgent) Run(ctx context.Context, p agent.Params) agent.Result {
	tc := newText(a.spec.Name, "")
	addContent(a.env, tc)
	fail := func(err error) agent.Result {
		settle(a.env, tc, err, fmt.Sprintf("%s failed: %v", a.spec.Name, err))
		return agent.Failure(err)
	}

	args, err := json.Marshal(map[string]any(p))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", agent.ErrInvalidParams, err))
	}

	a.env.Output().Progress(fmt.Sprintf("Calling %s on %s...", a.spec.Name, a.server))
	out, err := call(ctx, a.env, "mcp_"+a.server, "call_tool", func(ctx context.Context) (string, error) {
		return a.tool.InvokableRun(ctx, string(args))
	})
	if err != nil {
		return fail(err)
	}
	if isErr, res := tools.IsMCPErrorResult(out); isErr {
		return fail(errors.New(res.ErrorMessage))
	}

	tc.Text = strings.TrimSpace(out)
	settle(a.env, tc, nil, "")
	return agent.Success(tc.Text, map[string]any{"result": tc.Text})
}

// registerMCP registers the tools of the connected servers. Tools whose
// name clashes with an existing agent are skipped.
func registerMCP(ctx context.Context, r *agent.Registry, servers []*tools.Server) {
	for _, s := range servers {
		for _, t := range s.Tools {
			info, err := t.Info(ctx)
			if err != nil {
				logger.Warnf("read info of an MCP tool of %s: %v", s.Name, err)
				continue
			}
			spec := agent.Spec{
				Name:        MCPAgentName(s.Name, info.Name),
				Description: info.Desc,
				Schema:      info.ParamsOneOf,
			}
			server, it := s.Name, t
			err = r.Register(spec, func(env *agent.Env) agent.Agent {
				return &MCPAgent{env: env, spec: spec, server: server, tool: it}
			})
			if err != nil {
				logger.Warnf("skip MCP tool %s of %s: %v", info.Name, s.Name, err)
			}
		}
	}
}
