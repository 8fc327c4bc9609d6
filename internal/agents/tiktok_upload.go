package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
)

const TikTokUploadName = "tiktok_upload"

// maxCaptionRunes is TikTok's caption limit.
const maxCaptionRunes = 300

var tiktokUploadSpec = agent.Spec{
	Name:        TikTokUploadName,
	Description: "Uploads generated videos to TikTok with optimized metadata and scheduling",
	Params: map[string]*agent.Param{
		"video_stream_url": {Type: schema.String, Desc: "Stream URL of the generated video", Required: true},
		"caption":          {Type: schema.String, Desc: "TikTok caption", Required: true},
		"hashtags":         {Type: schema.Array, Desc: "List of hashtags to include", Items: &agent.Param{Type: schema.String}},
		"schedule_time":    {Type: schema.String, Desc: "Optional: schedule upload for a specific time (RFC 3339)"},
		"privacy_level": {
			Type:    schema.String,
			Desc:    "Video privacy setting",
			Enum:    []string{"public", "friends", "private"},
			Default: "public",
		},
	},
}

type TikTokUpload struct {
	env *agent.Env
}

func NewTikTokUpload(env *agent.Env) agent.Agent {
	return &TikTokUpload{env: env}
}

func (a *TikTokUpload) Spec() agent.Spec { return tiktokUploadSpec }

// fullCaption appends the hashtags and cuts the result to the caption limit.
func fullCaption(caption string, hashtags []string) (string, bool) {
	full := caption
	if tags := hashtagString(hashtags); tags != "" {
		full = caption + "\n\n" + tags
	}
	if len([]rune(full)) <= maxCaptionRunes {
		return full, false
	}
	return truncateRunes(full, maxCaptionRunes-3) + "...", true
}

func (a *TikTokUpload) Run(ctx context.Context, p agent.Params) agent.Result {
	streamURL := p.String("video_stream_url")
	privacy := p.String("privacy_level")

	tc := session.NewTextContent(TikTokUploadName, "Uploading to TikTok...")
	addContent(a.env, tc)
	fail := func(err error) agent.Result {
		settle(a.env, tc, err, "Failed to upload to TikTok")
		return agent.Failure(err)
	}

	var schedule *time.Time
	if s := p.String("schedule_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fail(fmt.Errorf("%w: schedule_time: %v", agent.ErrInvalidParams, err))
		}
		schedule = &t
	}

	social := a.env.Backends.Social
	if social == nil {
		return fail(&backend.Error{Backend: "tiktok", Op: "publish", Err: backend.ErrNotConfigured})
	}

	out := a.env.Output()
	out.Progress("Preparing video for TikTok upload...")

	// Without a media platform the stream URL is published as is.
	videoURL := streamURL
	media, err := a.env.Media(ctx)
	switch {
	case err == nil:
		dl, err := call(ctx, a.env, "media", "download", func(ctx context.Context) (string, error) {
			return media.DownloadURL(ctx, streamURL, "tiktok_video")
		})
		if err != nil {
			return fail(&agent.StageError{Stage: "download", Err: err})
		}
		videoURL = dl
	case !errors.Is(err, backend.ErrNotConfigured):
		return fail(err)
	}

	caption, truncated := fullCaption(p.String("caption"), p.Strings("hashtags"))
	if truncated {
		out.Progress("Caption too long, truncating...")
	}

	if sim, ok := social.(interface{ Simulated() bool }); ok && sim.Simulated() {
		out.Progress("TikTok API credentials not configured, simulating upload...")
	} else {
		out.Progress("Uploading to TikTok via API...")
	}

	res, err := call(ctx, a.env, "tiktok", "publish", func(ctx context.Context) (*backend.PublishResult, error) {
		return social.Publish(ctx, backend.PublishRequest{
			VideoURL:     videoURL,
			Caption:      caption,
			PrivacyLevel: privacy,
			ScheduleTime: schedule,
		})
	})
	if err != nil {
		return fail(err)
	}

	status := "uploaded successfully"
	when := "**Published:** Now"
	if schedule != nil {
		status = "scheduled for " + schedule.Format(time.RFC3339)
		when = "**Scheduled For:** " + schedule.Format(time.RFC3339)
	}
	note := "Successfully uploaded to TikTok!"
	if res.Simulated {
		note = "Note: this was a simulated upload. Configure TikTok API credentials for real uploads."
	}
	tc.Text = fmt.Sprintf("**TikTok Upload Complete!**\n\n**Publish ID:** %s\n**Status:** %s\n**Caption:** %s\n**Privacy:** %s\n%s\n\n%s",
		res.PublishID, titleCase(res.Status), truncateRunes(caption, 100), titleCase(privacy), when, note)
	settle(a.env, tc, nil, "Video "+status)

	return agent.Success("Video "+status, map[string]any{
		"upload_result": map[string]any{
			"publish_id": res.PublishID,
			"status":     res.Status,
			"video_url":  videoURL,
			"caption":    caption,
			"privacy":    privacy,
			"simulation": res.Simulated,
		},
	})
}
