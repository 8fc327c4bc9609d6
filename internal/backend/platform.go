package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPPlatform is the REST client of the media platform.
type HTTPPlatform struct {
	client *resty.Client
}

// NewPlatformConnector returns a connector that opens an HTTPPlatform for
// baseURL after checking that the credentials are accepted.
func NewPlatformConnector(baseURL, apiKey string, timeout time.Duration) MediaConnector {
	return func(ctx context.Context) (MediaPlatform, error) {
		if baseURL == "" {
			return nil, &Error{Backend: "media", Op: "connect", Err: ErrNotConfigured}
		}
		if apiKey == "" {
			return nil, &Error{Backend: "media", Op: "connect", Err: ErrMissingCredentials}
		}
		p := &HTTPPlatform{
			client: newRestClient(baseURL, timeout).SetHeader("x-access-token", apiKey),
		}
		if err := doJSON(ctx, p.client, http.MethodGet, "/user", nil, nil); err != nil {
			return nil, Wrap("media", "connect", err)
		}
		return p, nil
	}
}

func (p *HTTPPlatform) Close() error { return nil }

func (p *HTTPPlatform) Upload(ctx context.Context, collectionID string, req UploadRequest) (*Media, error) {
	var media Media
	path := fmt.Sprintf("/collection/%s/upload", collectionID)

	switch req.SourceType {
	case SourceFile:
		resp, err := p.client.R().
			SetContext(ctx).
			SetFile("file", req.Source).
			SetFormData(map[string]string{
				"media_type": string(req.MediaType),
				"name":       req.Name,
			}).
			Post(path)
		if err != nil {
			return nil, Wrap("media", "upload", fmt.Errorf("failed to send request: %w", err))
		}
		if err := decodeEnvelope(resp, &media); err != nil {
			return nil, Wrap("media", "upload", err)
		}
	case SourceURL:
		body := map[string]string{
			"url":        req.Source,
			"media_type": string(req.MediaType),
			"name":       req.Name,
		}
		if err := doJSON(ctx, p.client, http.MethodPost, path, body, &media); err != nil {
			return nil, Wrap("media", "upload", err)
		}
	default:
		return nil, &Error{Backend: "media", Op: "upload", Err: fmt.Errorf("unknown source type %q", req.SourceType)}
	}

	if media.CollectionID == "" {
		media.CollectionID = collectionID
	}
	return &media, nil
}

func (p *HTTPPlatform) GetVideo(ctx context.Context, collectionID, videoID string) (*Media, error) {
	var media Media
	path := fmt.Sprintf("/collection/%s/video/%s", collectionID, videoID)
	if err := doJSON(ctx, p.client, http.MethodGet, path, nil, &media); err != nil {
		return nil, Wrap("media", "get_video", err)
	}
	return &media, nil
}

func (p *HTTPPlatform) Transcript(ctx context.Context, collectionID, videoID string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	path := fmt.Sprintf("/collection/%s/video/%s/transcription", collectionID, videoID)
	if err := doJSON(ctx, p.client, http.MethodGet, path, nil, &out); err != nil {
		return "", Wrap("media", "transcript", err)
	}
	return out.Text, nil
}

func (p *HTTPPlatform) IndexSpokenWords(ctx context.Context, collectionID, videoID string) error {
	path := fmt.Sprintf("/collection/%s/video/%s/index", collectionID, videoID)
	body := map[string]string{"index_type": "spoken_word"}
	return Wrap("media", "index", doJSON(ctx, p.client, http.MethodPost, path, body, nil))
}

func (p *HTTPPlatform) GenerateVideo(ctx context.Context, collectionID string, req VideoRequest) (*Media, error) {
	var media Media
	body := map[string]interface{}{
		"prompt":   req.Prompt,
		"duration": req.Duration,
		"config":   req.Config,
	}
	path := fmt.Sprintf("/collection/%s/generate/video", collectionID)
	if err := doJSON(ctx, p.client, http.MethodPost, path, body, &media); err != nil {
		return nil, Wrap("media", "generate_video", err)
	}
	return &media, nil
}

func (p *HTTPPlatform) GenerateSoundEffect(ctx context.Context, collectionID string, req AudioRequest) (*Media, error) {
	var media Media
	body := map[string]interface{}{
		"prompt":     req.Prompt,
		"duration":   req.Duration,
		"audio_type": "sound_effect",
		"config":     req.Config,
	}
	path := fmt.Sprintf("/collection/%s/generate/audio", collectionID)
	if err := doJSON(ctx, p.client, http.MethodPost, path, body, &media); err != nil {
		return nil, Wrap("media", "generate_audio", err)
	}
	return &media, nil
}

func (p *HTTPPlatform) DownloadURL(ctx context.Context, streamURL, name string) (string, error) {
	var out struct {
		DownloadURL string `json:"download_url"`
	}
	body := map[string]string{"stream_link": streamURL, "name": name}
	if err := doJSON(ctx, p.client, http.MethodPost, "/download", body, &out); err != nil {
		return "", Wrap("media", "download", err)
	}
	return out.DownloadURL, nil
}

func (p *HTTPPlatform) NewTimeline(ctx context.Context) (Timeline, error) {
	return &httpTimeline{client: p.client}, nil
}

type timelineItem struct {
	Kind               string  `json:"kind"`
	AssetID            string  `json:"asset_id"`
	Start              float64 `json:"start,omitempty"`
	DisableOtherTracks bool    `json:"disable_other_tracks,omitempty"`
}

// httpTimeline accumulates items locally and compiles them in one call.
type httpTimeline struct {
	client   *resty.Client
	mu       sync.Mutex
	inline   []timelineItem
	overlays []timelineItem
}

func (t *httpTimeline) AddInline(asset VideoAsset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inline = append(t.inline, timelineItem{Kind: "video", AssetID: asset.AssetID})
}

func (t *httpTimeline) AddOverlay(start float64, asset AudioAsset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overlays = append(t.overlays, timelineItem{
		Kind:               "audio",
		AssetID:            asset.AssetID,
		Start:              start,
		DisableOtherTracks: asset.DisableOtherTracks,
	})
}

func (t *httpTimeline) GenerateStream(ctx context.Context) (string, error) {
	t.mu.Lock()
	body := map[string]interface{}{
		"inline":   append([]timelineItem(nil), t.inline...),
		"overlays": append([]timelineItem(nil), t.overlays...),
	}
	t.mu.Unlock()

	var out struct {
		StreamURL string `json:"stream_url"`
	}
	if err := doJSON(ctx, t.client, http.MethodPost, "/timeline/compile", body, &out); err != nil {
		return "", Wrap("media", "compile_timeline", err)
	}
	if out.StreamURL == "" {
		return "", &Error{Backend: "media", Op: "compile_timeline", Err: fmt.Errorf("%w: empty stream url", ErrMalformedResponse)}
	}
	return out.StreamURL, nil
}

// PlatformVideo renders clips with the media platform's own generator; the
// clip lands in the collection directly.
type PlatformVideo struct {
	Platform MediaPlatform
}

func (g PlatformVideo) TextToVideo(ctx context.Context, req VideoRequest) (*Media, error) {
	return g.Platform.GenerateVideo(ctx, req.CollectionID, req)
}

// PlatformAudio generates sound effects with the media platform.
type PlatformAudio struct {
	Platform MediaPlatform
}

func (g PlatformAudio) SoundEffect(ctx context.Context, req AudioRequest) (*Media, error) {
	return g.Platform.GenerateSoundEffect(ctx, req.CollectionID, req)
}
