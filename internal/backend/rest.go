package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"studio-backend/internal/utils"
)

// envelope is the response wrapper of the media platform and the render
// engines.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return resty.NewWithClient(utils.NewHTTPClient(timeout)).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
}

// doJSON sends body (when non-nil) and decodes the envelope's data into out
// (when non-nil).
func doJSON(ctx context.Context, c *resty.Client, method, path string, body, out interface{}) error {
	req := c.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *resty.Response, out interface{}) error {
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !env.Success {
		return fmt.Errorf("call failed: %s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}
