package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const tiktokBaseURL = "https://open.tiktokapis.com"

var tiktokPrivacy = map[string]string{
	"public":  "PUBLIC_TO_EVERYONE",
	"friends": "MUTUAL_FOLLOW_FRIENDS",
	"private": "SELF_ONLY",
}

// TikTok publishes videos through the Content Posting API. Without an access
// token it runs in simulation mode and never calls the network.
type TikTok struct {
	client      *resty.Client
	accessToken string
}

func NewTikTok(baseURL, accessToken string, timeout time.Duration) *TikTok {
	if baseURL == "" {
		baseURL = tiktokBaseURL
	}
	return &TikTok{
		client:      newRestClient(baseURL, timeout),
		accessToken: accessToken,
	}
}

func (t *TikTok) Simulated() bool { return t.accessToken == "" }

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *TikTok) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if t.Simulated() {
		return &PublishResult{PublishID: "sim_" + uuid.NewString(), Status: "simulated", Simulated: true}, nil
	}

	privacy, ok := tiktokPrivacy[req.PrivacyLevel]
	if !ok {
		privacy = tiktokPrivacy["public"]
	}
	postInfo := map[string]interface{}{
		"title":           req.Caption,
		"privacy_level":   privacy,
		"disable_comment": false,
	}
	if req.ScheduleTime != nil {
		postInfo["schedule_time"] = req.ScheduleTime.Unix()
	}
	body := map[string]interface{}{
		"post_info": postInfo,
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": req.VideoURL,
		},
	}

	var out tiktokInitResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.accessToken).
		SetBody(body).
		Post("/v2/post/publish/video/init/")
	if err != nil {
		return nil, Wrap("tiktok", "publish", err)
	}
	if resp.IsError() {
		return nil, &Error{Backend: "tiktok", Op: "publish", Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{Backend: "tiktok", Op: "publish", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, &Error{Backend: "tiktok", Op: "publish", Err: fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message)}
	}
	if out.Data.PublishID == "" {
		return nil, &Error{Backend: "tiktok", Op: "publish", Err: fmt.Errorf("%w: no publish id", ErrMalformedResponse)}
	}
	return &PublishResult{PublishID: out.Data.PublishID, Status: "processing"}, nil
}
