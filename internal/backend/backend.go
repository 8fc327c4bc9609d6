// Package backend holds the contracts of the external generation, media and
// publishing capabilities, and their adapters.
package backend

import (
	"context"
	"time"
)

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaImage MediaType = "image"
)

// Media is a platform-native media reference.
type Media struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id,omitempty"`
	Type         MediaType `json:"media_type,omitempty"`
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	URL          string    `json:"url,omitempty"`
	StreamURL    string    `json:"stream_url,omitempty"`
	PlayerURL    string    `json:"player_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Length       float64   `json:"length,omitempty"`
}

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// TextGenerator produces text, or a single JSON object for FormatJSON.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, format Format) (string, error)
}

// VideoRequest asks for one clip. Config is the engine's option map and is
// passed through unmodified.
type VideoRequest struct {
	CollectionID string
	Prompt       string
	Duration     int
	SaveAt       string
	Config       map[string]interface{}
}

// VideoGenerator renders a clip. A nil Media means the clip was written to
// req.SaveAt and still has to be uploaded.
type VideoGenerator interface {
	TextToVideo(ctx context.Context, req VideoRequest) (*Media, error)
}

type AudioRequest struct {
	CollectionID string
	Prompt       string
	Duration     float64
	SaveAt       string
	Config       map[string]interface{}
}

// AudioGenerator produces a sound effect or music bed. A nil Media means the
// audio was written to req.SaveAt.
type AudioGenerator interface {
	SoundEffect(ctx context.Context, req AudioRequest) (*Media, error)
}

type SpeechRequest struct {
	Text   string
	SaveAt string
	Config map[string]interface{}
}

// SpeechGenerator writes spoken text to req.SaveAt.
type SpeechGenerator interface {
	TextToSpeech(ctx context.Context, req SpeechRequest) error
}

type ImageRequest struct {
	Prompt string
	Size   string
	Config map[string]interface{}
}

// ImageGenerator returns a Media whose URL points at the generated image.
type ImageGenerator interface {
	TextToImage(ctx context.Context, req ImageRequest) (*Media, error)
}

type UploadSource string

const (
	SourceFile UploadSource = "file_path"
	SourceURL  UploadSource = "url"
)

type UploadRequest struct {
	Source     string
	SourceType UploadSource
	MediaType  MediaType
	Name       string
}

// MediaPlatform stores, indexes, generates and composes media inside
// collections.
type MediaPlatform interface {
	Upload(ctx context.Context, collectionID string, req UploadRequest) (*Media, error)
	GetVideo(ctx context.Context, collectionID, videoID string) (*Media, error)
	Transcript(ctx context.Context, collectionID, videoID string) (string, error)
	IndexSpokenWords(ctx context.Context, collectionID, videoID string) error
	GenerateVideo(ctx context.Context, collectionID string, req VideoRequest) (*Media, error)
	GenerateSoundEffect(ctx context.Context, collectionID string, req AudioRequest) (*Media, error)
	DownloadURL(ctx context.Context, streamURL, name string) (string, error)
	NewTimeline(ctx context.Context) (Timeline, error)
	Close() error
}

// MediaConnector opens a connection to the media platform.
type MediaConnector func(ctx context.Context) (MediaPlatform, error)

type VideoAsset struct {
	AssetID string
}

type AudioAsset struct {
	AssetID            string
	Start              float64
	DisableOtherTracks bool
}

// Timeline composes uploaded assets. Inline assets play back to back in the
// order they were added; overlays start at a fixed offset.
type Timeline interface {
	AddInline(asset VideoAsset)
	AddOverlay(start float64, asset AudioAsset)
	GenerateStream(ctx context.Context) (string, error)
}

type PublishRequest struct {
	VideoURL     string
	Caption      string
	PrivacyLevel string
	ScheduleTime *time.Time
}

type PublishResult struct {
	PublishID string `json:"publish_id"`
	Status    string `json:"status"`
	Simulated bool   `json:"simulated"`
}

type SocialPublisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// Notifier posts a plain-text message to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, channel, text string) error
}
