package backend

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
)

type SlackNotifier struct {
	api            *slack.Client
	defaultChannel string
}

func NewSlackNotifier(token, defaultChannel string) (*SlackNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("slack: %w", ErrMissingCredentials)
	}
	return &SlackNotifier{api: slack.New(token), defaultChannel: defaultChannel}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = n.defaultChannel
	}
	if channel == "" {
		return &Error{Backend: "slack", Op: "notify", Err: fmt.Errorf("channel is empty")}
	}
	if _, _, err := n.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false)); err != nil {
		return Wrap("slack", "notify", err)
	}
	return nil
}

// DiscordNotifier sends over the REST API only; no gateway session is opened.
type DiscordNotifier struct {
	session        *discordgo.Session
	defaultChannel string
}

func NewDiscordNotifier(token, defaultChannel string) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: %w", ErrMissingCredentials)
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, defaultChannel: defaultChannel}, nil
}

func (n *DiscordNotifier) Notify(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = n.defaultChannel
	}
	if channel == "" {
		return &Error{Backend: "discord", Op: "notify", Err: fmt.Errorf("channel ID is empty")}
	}
	if _, err := n.session.ChannelMessageSend(channel, text, discordgo.WithContext(ctx)); err != nil {
		return Wrap("discord", "notify", fmt.Errorf("failed to send discord message: %w", err))
	}
	return nil
}
