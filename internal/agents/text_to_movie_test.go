package agents

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
)

const styleAnswer = `{
  "camera_setup": "ARRI Alexa, 35mm",
  "color_grading": "teal and orange",
  "lighting_style": "low key",
  "movement_style": "slow dolly",
  "film_mood": "melancholic",
  "director_reference": "Denis Villeneuve",
  "character_constants": {"physical_description": "a tall woman in a red coat"},
  "setting_constants": {"time_period": "near future"}
}`

const scenesAnswer = "```json\n" + `{"scenes": [
  {"story_beat": "arrival", "scene_description": "a train pulls in", "suggested_duration": "7"},
  {"story_beat": "search", "scene_description": "she walks the platform", "suggested_duration": 7.9},
  {"story_beat": "farewell", "scene_description": "the train leaves"}
]}` + "\n```"

func movieText() *fakeText {
	return (&fakeText{}).
		on("Compress the following", "compressed scene prompt").
		on("cinematographer", styleAnswer).
		on("Break this storyline", scenesAnswer).
		on("background music", "soft piano with strings")
}

func movieArgs(engine string) map[string]any {
	return map[string]any{
		"collection_id": "c-1",
		"engine":        engine,
		"job_type":      "text_to_movie",
		"text_to_movie": map[string]any{
			"storyline":          "A woman waits for someone who never arrives.",
			"video_kling_config": map[string]any{"mode": "pro"},
		},
	}
}

func newMovieAgent(env *agent.Env, rm *recordingRemover) *TextToMovie {
	a := NewTextToMovie(env).(*TextToMovie)
	a.remove = rm.remove
	return a
}

func TestTextToMovieComposesScenes(t *testing.T) {
	text := movieText()
	video := &fakeVideo{}
	platform := newFakePlatform()
	env, events := newObservedEnv(t, &backend.Set{
		Text:  text,
		Media: platform.connector(),
		Video: map[string]backend.VideoGenerator{backend.EngineKling: video},
	})
	rm := &recordingRemover{}

	res := agent.Invoke(context.Background(), env, newMovieAgent(env, rm), movieArgs(backend.EngineKling))
	if !res.OK() {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if got := res.Data["video_url"]; got != platform.timeline.stream {
		t.Fatalf("video_url = %v", got)
	}

	if len(video.requests) != 3 {
		t.Fatalf("expected 3 scene renders, got %d", len(video.requests))
	}
	wantDur := []int{7, 7, 5}
	for i, req := range video.requests {
		if req.Duration != wantDur[i] {
			t.Errorf("scene %d duration = %d, want %d", i+1, req.Duration, wantDur[i])
		}
		if req.Prompt != "compressed scene prompt" {
			t.Errorf("scene %d prompt = %q", i+1, req.Prompt)
		}
		if req.Config["mode"] != "pro" {
			t.Errorf("scene %d config not passed through: %v", i+1, req.Config)
		}
	}

	if len(platform.uploads) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(platform.uploads))
	}
	if got := strings.Join(events.updates(), ","); got != "videos:c-1" {
		t.Fatalf("events = %s", got)
	}
	if len(platform.soundDurs) != 1 || platform.soundDurs[0] != 15 {
		t.Fatalf("music duration = %v, want the summed clip length 15", platform.soundDurs)
	}
	if got := strings.Join(platform.timeline.inline, ","); got != "m-1,m-2,m-3" {
		t.Fatalf("inline order = %s", got)
	}
	if len(platform.timeline.overlays) != 1 || !platform.timeline.overlays[0].DisableOtherTracks {
		t.Fatalf("unexpected overlays %+v", platform.timeline.overlays)
	}

	if len(rm.paths) != 4 {
		t.Fatalf("expected scenes+1 temp removals, got %d", len(rm.paths))
	}
	for _, p := range rm.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s left behind", p)
		}
	}

	out := env.Output()
	if out.Status() != session.StatusSuccess {
		t.Fatalf("message status = %s", out.Status())
	}
	vc, ok := out.Content()[0].(*session.VideoContent)
	if !ok || vc.Video == nil || vc.Video.StreamURL != platform.timeline.stream {
		t.Fatalf("unexpected content %+v", out.Content())
	}
	if vc.Status() != session.StatusSuccess {
		t.Fatalf("content status = %s", vc.Status())
	}
	for _, want := range []string{
		"Generating 3 videos...",
		"Uploading 3 videos...",
		"Generating background music...",
		"Combining assets into final video...",
	} {
		if !hasAction(out.Actions(), want) {
			t.Errorf("missing action %q in %v", want, out.Actions())
		}
	}
}

func TestTextToMovieStopsAtFailingScene(t *testing.T) {
	video := &fakeVideo{failAt: 2, err: errors.New("quota exceeded")}
	platform := newFakePlatform()
	env := newAgentEnv(t, &backend.Set{
		Text:  movieText(),
		Media: platform.connector(),
		Video: map[string]backend.VideoGenerator{backend.EngineKling: video},
	})
	rm := &recordingRemover{}

	res := agent.Invoke(context.Background(), env, newMovieAgent(env, rm), movieArgs(backend.EngineKling))
	if res.OK() {
		t.Fatal("expected failure")
	}
	var se *agent.StageError
	if !errors.As(res.Err(), &se) || se.Stage != "scene" || se.Index != 2 {
		t.Fatalf("expected scene 2 stage error, got %v", res.Err())
	}
	if len(video.requests) != 2 {
		t.Fatalf("scene 3 must not be attempted, got %d renders", len(video.requests))
	}
	if len(platform.uploads) != 0 || len(platform.soundDurs) != 0 {
		t.Fatal("no upload or audio expected after a failed scene")
	}

	out := env.Output()
	actions := out.Actions()
	if !hasAction(actions, "Scene 1 generated") {
		t.Errorf("missing scene 1 success in %v", actions)
	}
	if !hasActionPrefix(actions, "Scene 2 failed: ") {
		t.Errorf("missing scene 2 failure in %v", actions)
	}
	if hasAction(actions, "Generating video for scene 3...") {
		t.Errorf("scene 3 started: %v", actions)
	}
	if out.Status() != session.StatusError {
		t.Fatalf("message status = %s", out.Status())
	}
	if vc := out.Content()[0]; vc.Base().Status() != session.StatusError {
		t.Fatalf("content status = %s", vc.Base().Status())
	}
	for _, p := range rm.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s left behind", p)
		}
	}
	if len(rm.paths) != 2 {
		t.Fatalf("expected both scene temp files removed, got %d", len(rm.paths))
	}
}

// slowVideo ignores cancellation and writes its clip after delay.
type slowVideo struct {
	delay time.Duration
	saved chan string
}

func (v *slowVideo) TextToVideo(_ context.Context, req backend.VideoRequest) (*backend.Media, error) {
	time.Sleep(v.delay)
	err := os.WriteFile(req.SaveAt, []byte("clip"), 0644)
	v.saved <- req.SaveAt
	return nil, err
}

func TestTextToMovieRemovesClipWrittenAfterTimeout(t *testing.T) {
	video := &slowVideo{delay: 150 * time.Millisecond, saved: make(chan string, 1)}
	env := newAgentEnv(t, &backend.Set{
		Text:         movieText(),
		Media:        newFakePlatform().connector(),
		Video:        map[string]backend.VideoGenerator{backend.EngineKling: video},
		StageTimeout: 50 * time.Millisecond,
	})
	dir := env.Backends.DownloadsDir

	res := agent.Invoke(context.Background(), env, NewTextToMovie(env), movieArgs(backend.EngineKling))
	if !errors.Is(res.Err(), backend.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", res.Err())
	}

	var path string
	select {
	case path = <-video.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("backend never wrote its clip")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			entries, _ := os.ReadDir(dir)
			t.Fatalf("temp files left after failed run: %d in %s", len(entries), dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTextToMovieRejectsUnknownEngineBeforeGenerating(t *testing.T) {
	text := movieText()
	env := newAgentEnv(t, &backend.Set{Text: text, Media: newFakePlatform().connector()})

	res := agent.Invoke(context.Background(), env, NewTextToMovie(env), movieArgs("runway"))
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err(), agent.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", res.Err())
	}
	if text.count() != 0 {
		t.Fatalf("no generation call expected, got %d", text.count())
	}
}

func TestTextToMovieRequiresEngineCredentials(t *testing.T) {
	text := movieText()
	env := newAgentEnv(t, &backend.Set{Text: text, Media: newFakePlatform().connector()})

	res := agent.Invoke(context.Background(), env, NewTextToMovie(env), movieArgs(backend.EngineKling))
	if !errors.Is(res.Err(), backend.ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", res.Err())
	}
	if text.count() != 0 {
		t.Fatalf("no generation call expected, got %d", text.count())
	}
}

func TestTextToMovieConciseEngineSkipsCompression(t *testing.T) {
	text := movieText()
	video := &fakeVideo{}
	platform := newFakePlatform()
	env := newAgentEnv(t, &backend.Set{
		Text:  text,
		Media: platform.connector(),
		Video: map[string]backend.VideoGenerator{backend.EngineStabilityAI: video},
	})

	res := agent.Invoke(context.Background(), env, newMovieAgent(env, &recordingRemover{}), movieArgs(backend.EngineStabilityAI))
	if !res.OK() {
		t.Fatalf("expected success, got %q", res.Message)
	}
	for i, req := range video.requests {
		if req.Duration > 4 {
			t.Errorf("scene %d duration %d exceeds engine max", i+1, req.Duration)
		}
		if !strings.Contains(req.Prompt, "a tall woman in a red coat") {
			t.Errorf("scene %d prompt lacks character: %q", i+1, req.Prompt)
		}
		if req.Config != nil {
			t.Errorf("kling config leaked to stabilityai: %v", req.Config)
		}
	}
	for _, p := range text.calls {
		if strings.Contains(p, "Compress the following") {
			t.Fatal("concise engine must not compress prompts")
		}
	}
}

func TestNormalizeDuration(t *testing.T) {
	tests := []struct {
		in   any
		max  int
		want int
	}{
		{"7", 10, 7},
		{7.9, 10, 7},
		{nil, 10, 5},
		{"abc", 10, 5},
		{0.0, 10, 5},
		{-3, 10, 5},
		{12, 10, 10},
		{8, 4, 4},
		{" 3 ", 10, 3},
	}
	for _, tt := range tests {
		if got := normalizeDuration(tt.in, tt.max); got != tt.want {
			t.Errorf("normalizeDuration(%v, %d) = %d, want %d", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("é", 3000)
	if got := []rune(truncateRunes(s, maxDetailedPrompt)); len(got) != maxDetailedPrompt {
		t.Fatalf("got %d runes", len(got))
	}
	if truncateRunes("short", 10) != "short" {
		t.Fatal("short string changed")
	}
}
