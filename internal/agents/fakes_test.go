package agents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/model"
	"studio-backend/internal/session"
	"studio-backend/internal/storage"
)

// fakeText answers by matching a marker of the rendered prompt.
type fakeText struct {
	mu      sync.Mutex
	answers []textAnswer
	calls   []string
}

type textAnswer struct {
	marker string
	answer string
	err    error
}

func (f *fakeText) on(marker, answer string) *fakeText {
	f.answers = append(f.answers, textAnswer{marker: marker, answer: answer})
	return f
}

func (f *fakeText) fail(marker string, err error) *fakeText {
	f.answers = append(f.answers, textAnswer{marker: marker, err: err})
	return f
}

func (f *fakeText) Generate(ctx context.Context, prompt string, format backend.Format) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prompt)
	for _, a := range f.answers {
		if strings.Contains(prompt, a.marker) {
			return a.answer, a.err
		}
	}
	return "", fmt.Errorf("no answer for prompt %.40q", prompt)
}

func (f *fakeText) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeVideo writes a clip to SaveAt and fails on the failAt-th call.
type fakeVideo struct {
	mu       sync.Mutex
	requests []backend.VideoRequest
	failAt   int
	err      error
}

func (f *fakeVideo) TextToVideo(ctx context.Context, req backend.VideoRequest) (*backend.Media, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if n == f.failAt {
		return nil, f.err
	}
	return nil, os.WriteFile(req.SaveAt, []byte("clip"), 0644)
}

type fakeTimeline struct {
	inline   []string
	overlays []backend.AudioAsset
	stream   string
}

func (t *fakeTimeline) AddInline(asset backend.VideoAsset) { t.inline = append(t.inline, asset.AssetID) }

func (t *fakeTimeline) AddOverlay(start float64, asset backend.AudioAsset) {
	asset.Start = start
	t.overlays = append(t.overlays, asset)
}

func (t *fakeTimeline) GenerateStream(ctx context.Context) (string, error) {
	return t.stream, nil
}

// fakePlatform is an in-memory media platform.
type fakePlatform struct {
	mu          sync.Mutex
	uploads     []backend.UploadRequest
	soundDurs   []float64
	clipLength  float64
	timeline    *fakeTimeline
	videos      map[string]*backend.Media
	transcripts map[string]string
	closed      bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		clipLength:  5,
		timeline:    &fakeTimeline{stream: "https://stream.example/final.m3u8"},
		videos:      map[string]*backend.Media{},
		transcripts: map[string]string{},
	}
}

func (p *fakePlatform) connector() backend.MediaConnector {
	return func(ctx context.Context) (backend.MediaPlatform, error) { return p, nil }
}

func (p *fakePlatform) Upload(ctx context.Context, collectionID string, req backend.UploadRequest) (*backend.Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, req)
	m := &backend.Media{
		ID:           fmt.Sprintf("m-%d", len(p.uploads)),
		CollectionID: collectionID,
		Type:         req.MediaType,
		StreamURL:    fmt.Sprintf("https://stream.example/m-%d.m3u8", len(p.uploads)),
	}
	if req.MediaType == backend.MediaVideo {
		m.Length = p.clipLength
	}
	return m, nil
}

func (p *fakePlatform) GetVideo(ctx context.Context, collectionID, videoID string) (*backend.Media, error) {
	if v, ok := p.videos[videoID]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("video %s not found", videoID)
}

func (p *fakePlatform) Transcript(ctx context.Context, collectionID, videoID string) (string, error) {
	if t, ok := p.transcripts[videoID]; ok {
		return t, nil
	}
	return "", fmt.Errorf("no transcript for %s", videoID)
}

func (p *fakePlatform) IndexSpokenWords(ctx context.Context, collectionID, videoID string) error {
	return nil
}

func (p *fakePlatform) GenerateVideo(ctx context.Context, collectionID string, req backend.VideoRequest) (*backend.Media, error) {
	return &backend.Media{ID: "gen-video", Length: float64(req.Duration)}, nil
}

func (p *fakePlatform) GenerateSoundEffect(ctx context.Context, collectionID string, req backend.AudioRequest) (*backend.Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.soundDurs = append(p.soundDurs, req.Duration)
	return &backend.Media{ID: "music", Type: backend.MediaAudio, Length: req.Duration}, nil
}

func (p *fakePlatform) DownloadURL(ctx context.Context, streamURL, name string) (string, error) {
	return strings.Replace(streamURL, "stream.example", "download.example", 1), nil
}

func (p *fakePlatform) NewTimeline(ctx context.Context) (backend.Timeline, error) {
	return p.timeline, nil
}

func (p *fakePlatform) Close() error {
	p.closed = true
	return nil
}

// recordingRemover counts temp file removals.
type recordingRemover struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRemover) remove(path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return os.Remove(path)
}

func newAgentEnv(t *testing.T, backends *backend.Set) *agent.Env {
	t.Helper()
	return buildEnv(t, backends, nil)
}

// newObservedEnv is newAgentEnv with the data events of the conversation
// recorded.
func newObservedEnv(t *testing.T, backends *backend.Set) (*agent.Env, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	return buildEnv(t, backends, rec), rec
}

func buildEnv(t *testing.T, backends *backend.Set, b session.Broadcaster) *agent.Env {
	t.Helper()
	if backends.DownloadsDir == "" {
		backends.DownloadsDir = t.TempDir()
	}
	s := session.New(storage.NewMemoryStorage(), b, session.Options{CollectionID: "c-1"})
	env := agent.NewEnv(s, backends)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*model.DataEvent
}

func (r *eventRecorder) Broadcast(string, *model.MessageRecord) error { return nil }

func (r *eventRecorder) BroadcastEvent(_ string, ev *model.DataEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// updates lists the recorded events as "update:collection".
func (r *eventRecorder) updates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.EventType != session.EventTypeUpdateData {
			out = append(out, "bad type "+ev.EventType)
			continue
		}
		out = append(out, ev.Update+":"+ev.CollectionID)
	}
	return out
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func hasActionPrefix(actions []string, prefix string) bool {
	for _, a := range actions {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}
