package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// RenderEngine is a hosted text-to-video service with an asynchronous task
// API: submit, poll until done, then download the clip to SaveAt.
type RenderEngine struct {
	name         string
	client       *resty.Client
	pollInterval time.Duration
}

type renderTask struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

func NewRenderEngine(name, baseURL, apiKey string, timeout time.Duration) (*RenderEngine, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNotConfigured)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingCredentials)
	}
	return &RenderEngine{
		name:         name,
		client:       newRestClient(baseURL, timeout).SetAuthToken(apiKey),
		pollInterval: 2 * time.Second,
	}, nil
}

// WithPollInterval overrides how often a pending task is polled.
func (e *RenderEngine) WithPollInterval(d time.Duration) *RenderEngine {
	e.pollInterval = d
	return e
}

func (e *RenderEngine) TextToVideo(ctx context.Context, req VideoRequest) (*Media, error) {
	body := map[string]interface{}{}
	for k, v := range req.Config {
		body[k] = v
	}
	body["prompt"] = req.Prompt
	body["duration"] = req.Duration

	var task renderTask
	if err := doJSON(ctx, e.client, http.MethodPost, "/text-to-video", body, &task); err != nil {
		return nil, Wrap(e.name, "submit", err)
	}

	for task.Status != "succeeded" {
		switch task.Status {
		case "failed", "cancelled":
			return nil, &Error{Backend: e.name, Op: "render", Err: fmt.Errorf("task %s %s: %s", task.ID, task.Status, task.Error)}
		}
		select {
		case <-ctx.Done():
			return nil, Wrap(e.name, "render", ctx.Err())
		case <-time.After(e.pollInterval):
		}
		if err := doJSON(ctx, e.client, http.MethodGet, "/tasks/"+task.ID, nil, &task); err != nil {
			return nil, Wrap(e.name, "poll", err)
		}
	}

	if task.VideoURL == "" {
		return nil, &Error{Backend: e.name, Op: "render", Err: fmt.Errorf("%w: task %s has no video url", ErrMalformedResponse, task.ID)}
	}

	resp, err := e.client.R().SetContext(ctx).Get(task.VideoURL)
	if err != nil {
		return nil, Wrap(e.name, "download", err)
	}
	if resp.IsError() {
		return nil, &Error{Backend: e.name, Op: "download", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	if err := os.WriteFile(req.SaveAt, resp.Body(), 0644); err != nil {
		return nil, Wrap(e.name, "save", err)
	}
	return nil, nil
}
