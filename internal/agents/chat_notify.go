package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
)

const ChatNotifyName = "chat_notify"

// newChatNotifySpec lists the configured notifiers as the platform enum.
func newChatNotifySpec(platforms []string) agent.Spec {
	sort.Strings(platforms)
	platform := &agent.Param{
		Type:     schema.String,
		Desc:     "Chat platform to post to",
		Enum:     platforms,
		Required: true,
	}
	if len(platforms) == 1 {
		platform.Required = false
		platform.Default = platforms[0]
	}
	return agent.Spec{
		Name:        ChatNotifyName,
		Description: "Posts a message to a team chat channel (Slack or Discord), e.g. to share a generated video or a summary",
		Params: map[string]*agent.Param{
			"message":  {Type: schema.String, Desc: "The message to post", Required: true},
			"platform": platform,
			"channel":  {Type: schema.String, Desc: "Channel name or id; the configured default channel when empty"},
		},
	}
}

type ChatNotify struct {
	env  *agent.Env
	spec agent.Spec
}

func (a *ChatNotify) Spec() agent.Spec { return a.spec }

func (a *ChatNotify) Run(ctx context.Context, p agent.Params) agent.Result {
	platform := p.String("platform")
	message := p.String("message")

	tc := newText(ChatNotifyName, "")
	addContent(a.env, tc)

	n, ok := a.env.Backends.Notifiers[platform]
	if !ok {
		err := &backend.Error{Backend: platform, Op: "notify", Err: backend.ErrNotConfigured}
		settle(a.env, tc, err, fmt.Sprintf("Failed to post to %s", platform))
		return agent.Failure(err)
	}

	a.env.Output().Progress(fmt.Sprintf("Posting message to %s...", platform))
	if _, err := call(ctx, a.env, platform, "notify", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.Notify(ctx, p.String("channel"), message)
	}); err != nil {
		settle(a.env, tc, err, fmt.Sprintf("Failed to post to %s: %v", platform, err))
		return agent.Failure(err)
	}

	tc.Text = fmt.Sprintf("Message posted to %s.", platform)
	settle(a.env, tc, nil, "Message sent")
	return agent.Success(fmt.Sprintf("Message posted to %s", platform), map[string]any{"platform": platform})
}
