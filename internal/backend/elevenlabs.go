package backend

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	// sound generation accepts at most 22 seconds
	elevenLabsMaxDuration = 22.0
)

type ElevenLabs struct {
	client *resty.Client
}

func NewElevenLabs(baseURL, apiKey string, timeout time.Duration) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: %w", ErrMissingCredentials)
	}
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	return &ElevenLabs{
		client: newRestClient(baseURL, timeout).SetHeader("xi-api-key", apiKey),
	}, nil
}

func (e *ElevenLabs) SoundEffect(ctx context.Context, req AudioRequest) (*Media, error) {
	duration := req.Duration
	if duration > elevenLabsMaxDuration {
		duration = elevenLabsMaxDuration
	}

	body := map[string]interface{}{"prompt_influence": 0.3}
	for k, v := range req.Config {
		body[k] = v
	}
	body["text"] = req.Prompt
	if duration > 0 {
		body["duration_seconds"] = duration
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/mpeg").
		SetBody(body).
		Post("/v1/sound-generation")
	if err != nil {
		return nil, Wrap("elevenlabs", "sound_effect", err)
	}
	if resp.IsError() {
		return nil, &Error{Backend: "elevenlabs", Op: "sound_effect", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if err := os.WriteFile(req.SaveAt, resp.Body(), 0644); err != nil {
		return nil, Wrap("elevenlabs", "save", err)
	}
	return nil, nil
}
