package agents

import (
	"context"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/tools"
)

// NewRegistry registers the built-in agents and the tools of the connected
// MCP servers. chat_notify is only offered when a notifier is configured.
func NewRegistry(ctx context.Context, backends *backend.Set, servers []*tools.Server) *agent.Registry {
	r := agent.NewRegistry()

	r.MustRegister(textToMovieSpec, NewTextToMovie)
	r.MustRegister(marketingWorkflowSpec, NewMarketingWorkflow)
	r.MustRegister(viralAnalysisSpec, NewViralAnalysis)
	r.MustRegister(scriptGeneratorSpec, NewScriptGenerator)
	r.MustRegister(tiktokUploadSpec, NewTikTokUpload)
	r.MustRegister(imageGenerationSpec, NewImageGeneration)
	r.MustRegister(audioGenerationSpec, NewAudioGeneration)

	if backends != nil {
		if names := backends.NotifierNames(); len(names) > 0 {
			spec := newChatNotifySpec(names)
			r.MustRegister(spec, func(env *agent.Env) agent.Agent {
				return &ChatNotify{env: env, spec: spec}
			})
		}
	}

	registerMCP(ctx, r, servers)
	return r
}
