package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is one renderable item of a message. The set of implementations
// is closed: TextContent, ImageContent, VideoContent, VideosContent and
// SearchResultsContent.
type Content interface {
	Type() ContentType
	Base() *ContentBase
	isContent()
}

// ContentBase holds the fields shared by every content variant. Its status
// starts at progress and moves once, to success or error.
type ContentBase struct {
	ContentType   ContentType `json:"type"`
	StatusMessage string      `json:"status_message,omitempty"`
	AgentName     string      `json:"agent_name,omitempty"`

	status MsgStatus
}

func newBase(t ContentType, agentName, statusMessage string) ContentBase {
	return ContentBase{
		ContentType:   t,
		StatusMessage: statusMessage,
		AgentName:     agentName,
		status:        StatusProgress,
	}
}

func (b *ContentBase) Type() ContentType  { return b.ContentType }
func (b *ContentBase) Base() *ContentBase { return b }
func (b *ContentBase) isContent()         {}

func (b *ContentBase) Status() MsgStatus {
	if b.status == "" {
		return StatusProgress
	}
	return b.status
}

// Succeed marks the content as successfully produced.
func (b *ContentBase) Succeed(statusMessage string) error {
	return b.transition(StatusSuccess, statusMessage)
}

// Fail marks the content as failed.
func (b *ContentBase) Fail(statusMessage string) error {
	return b.transition(StatusError, statusMessage)
}

func (b *ContentBase) transition(to MsgStatus, statusMessage string) error {
	if from := b.Status(); from != StatusProgress {
		return fmt.Errorf("%w: content %s -> %s", ErrInvalidTransition, from, to)
	}
	b.status = to
	if statusMessage != "" {
		b.StatusMessage = statusMessage
	}
	return nil
}

type TextContent struct {
	ContentBase
	Text string `json:"text"`
}

func NewTextContent(agentName, statusMessage string) *TextContent {
	return &TextContent{ContentBase: newBase(ContentTypeText, agentName, statusMessage)}
}

type VideoData struct {
	StreamURL    string  `json:"stream_url"`
	ExternalURL  string  `json:"external_url,omitempty"`
	PlayerURL    string  `json:"player_url,omitempty"`
	ID           string  `json:"id,omitempty"`
	CollectionID string  `json:"collection_id,omitempty"`
	Name         string  `json:"name,omitempty"`
	Description  string  `json:"description,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Length       float64 `json:"length,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type VideoContent struct {
	ContentBase
	Video *VideoData `json:"video,omitempty"`
}

func NewVideoContent(agentName, statusMessage string) *VideoContent {
	return &VideoContent{ContentBase: newBase(ContentTypeVideo, agentName, statusMessage)}
}

type VideosUIConfig struct {
	Columns int `json:"columns"`
}

type VideosContent struct {
	ContentBase
	Videos   []VideoData    `json:"videos"`
	UIConfig VideosUIConfig `json:"ui_config"`
}

func NewVideosContent(agentName, statusMessage string) *VideosContent {
	return &VideosContent{
		ContentBase: newBase(ContentTypeVideos, agentName, statusMessage),
		UIConfig:    VideosUIConfig{Columns: 4},
	}
}

type ImageData struct {
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	ID           string `json:"id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

type ImageContent struct {
	ContentBase
	Image *ImageData `json:"image,omitempty"`
}

func NewImageContent(agentName, statusMessage string) *ImageContent {
	return &ImageContent{ContentBase: newBase(ContentTypeImage, agentName, statusMessage)}
}

type ShotData struct {
	SearchScore float64 `json:"search_score"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
}

type SearchData struct {
	VideoID    string     `json:"video_id"`
	VideoTitle string     `json:"video_title"`
	StreamURL  string     `json:"stream_url"`
	Duration   float64    `json:"duration"`
	Shots      []ShotData `json:"shots"`
}

type SearchResultsContent struct {
	ContentBase
	SearchResults []SearchData `json:"search_results"`
}

func NewSearchResultsContent(agentName, statusMessage string) *SearchResultsContent {
	return &SearchResultsContent{ContentBase: newBase(ContentTypeSearchResults, agentName, statusMessage)}
}

// The status field is unexported so transitions go through Succeed/Fail;
// each variant adds it back when encoding.

func (c *TextContent) MarshalJSON() ([]byte, error) {
	type plain TextContent
	return json.Marshal(struct {
		*plain
		Status MsgStatus `json:"status"`
	}{(*plain)(c), c.Status()})
}

func (c *VideoContent) MarshalJSON() ([]byte, error) {
	type plain VideoContent
	return json.Marshal(struct {
		*plain
		Status MsgStatus `json:"status"`
	}{(*plain)(c), c.Status()})
}

func (c *VideosContent) MarshalJSON() ([]byte, error) {
	type plain VideosContent
	return json.Marshal(struct {
		*plain
		Status MsgStatus `json:"status"`
	}{(*plain)(c), c.Status()})
}

func (c *ImageContent) MarshalJSON() ([]byte, error) {
	type plain ImageContent
	return json.Marshal(struct {
		*plain
		Status MsgStatus `json:"status"`
	}{(*plain)(c), c.Status()})
}

func (c *SearchResultsContent) MarshalJSON() ([]byte, error) {
	type plain SearchResultsContent
	return json.Marshal(struct {
		*plain
		Status MsgStatus `json:"status"`
	}{(*plain)(c), c.Status()})
}

// Describe renders a one-line plain-text summary of c.
func Describe(c Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s]", c.Type(), c.Base().Status())
	switch v := c.(type) {
	case *TextContent:
		b.WriteString(" " + v.Text)
	case *VideoContent:
		if v.Video != nil {
			b.WriteString(" " + v.Video.StreamURL)
		}
	case *VideosContent:
		fmt.Fprintf(&b, " %d videos", len(v.Videos))
	case *ImageContent:
		if v.Image != nil {
			b.WriteString(" " + v.Image.URL)
		}
	case *SearchResultsContent:
		fmt.Fprintf(&b, " %d results", len(v.SearchResults))
	default:
		panic(fmt.Sprintf("session: unhandled content variant %T", c))
	}
	if msg := c.Base().StatusMessage; msg != "" {
		b.WriteString(" (" + msg + ")")
	}
	return b.String()
}
