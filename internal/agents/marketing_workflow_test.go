package agents

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
)

const scriptAnswer = `{
  "script_overview": "A day saved by a smart mug",
  "scenes": [
    {"timing": "0-3s", "type": "hook", "dialogue": "Cold coffee again?", "visual_direction": "close-up of a sad mug"},
    {"timing": "3-25s", "type": "demo", "dialogue": "Not anymore.", "visual_direction": "the mug glows warm"},
    {"timing": "25-30s", "type": "cta", "dialogue": "Link in bio!", "visual_direction": "product shot", "on_screen_text": "50% off"}
  ],
  "audio_suggestions": {"trending_sounds": ["lofi"], "music_style": "chill", "voice_direction": "warm"},
  "hashtags": ["#coffee", "mug"],
  "posting_strategy": {"best_times": "8am", "caption_suggestions": "Hot coffee all day", "engagement_tactics": "ask a question"}
}`

const analysisAnswer = `{"hook_patterns": ["question opener"], "engagement_triggers": ["surprise"], "conversion_elements": ["live demo"], "viral_mechanics": [], "timing_insights": {}}`

func workflowText() *fakeText {
	return (&fakeText{}).
		on("Compress the following", "compressed scene prompt").
		on("Analyze this TikTok video", analysisAnswer).
		on("Based on the analysis of", "Open with a question.").
		on("high-converting", scriptAnswer).
		on("cinematographer", styleAnswer).
		on("Break this storyline", scenesAnswer)
}

type fakeSocial struct {
	mu    sync.Mutex
	calls []backend.PublishRequest
}

func (f *fakeSocial) Publish(ctx context.Context, req backend.PublishRequest) (*backend.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return &backend.PublishResult{PublishID: "p-1", Status: "processing"}, nil
}

func workflowPlatform() *fakePlatform {
	p := newFakePlatform()
	p.videos["v1"] = &backend.Media{ID: "v1", Name: "mug unboxing", Length: 21}
	p.transcripts["v1"] = "you will not believe this mug"
	return p
}

func workflowArgs(workflowType string, autoUpload bool) map[string]any {
	return map[string]any{
		"workflow_type": workflowType,
		"collection_id": "c-1",
		"input_videos":  []any{"v1"},
		"product_info": map[string]any{
			"name":         "SmartMug",
			"description":  "keeps coffee hot",
			"key_features": []any{"heated", "app control"},
		},
		"auto_upload": autoUpload,
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestWorkflowWithoutUploadSkipsPublish(t *testing.T) {
	social := &fakeSocial{}
	platform := workflowPlatform()
	env := newAgentEnv(t, &backend.Set{
		Text:   workflowText(),
		Media:  platform.connector(),
		Social: social,
	})

	res := agent.Invoke(context.Background(), env, NewMarketingWorkflow(env), workflowArgs(WorkflowAnalyzeAndCreate, false))
	if !res.OK() {
		t.Fatalf("expected success, got %q", res.Message)
	}

	want := []string{StageScript, StageVideoCreation, StageViralAnalysis}
	if got := sortedKeys(res.Data); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("data keys = %v, want %v", got, want)
	}
	if len(social.calls) != 0 {
		t.Fatalf("publish must not run, got %d calls", len(social.calls))
	}
	video, _ := res.Data[StageVideoCreation].(map[string]any)
	if video["video_url"] != platform.timeline.stream {
		t.Fatalf("video stage data = %v", video)
	}

	out := env.Output()
	if out.Status() != session.StatusSuccess {
		t.Fatalf("message status = %s", out.Status())
	}
	for _, name := range out.AgentNames() {
		if name == TikTokUploadName {
			t.Fatal("upload agent ran")
		}
	}
	for _, want := range []string{"Step 1: Analyzing viral patterns...", "Step 3: Creating TikTok video...", "Video created successfully!"} {
		if !hasAction(out.Actions(), want) {
			t.Errorf("missing action %q", want)
		}
	}
	content := out.Content()
	last, ok := content[len(content)-1].(*session.TextContent)
	if !ok || !strings.Contains(last.Text, "Generated 3-scene optimized script") {
		t.Fatalf("unexpected summary %+v", content[len(content)-1])
	}
}

func TestWorkflowFullProductionPublishes(t *testing.T) {
	social := &fakeSocial{}
	env := newAgentEnv(t, &backend.Set{
		Text:   workflowText(),
		Media:  workflowPlatform().connector(),
		Social: social,
	})

	res := agent.Invoke(context.Background(), env, NewMarketingWorkflow(env), workflowArgs(WorkflowFullProduction, false))
	if !res.OK() {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if len(res.Data) != 4 {
		t.Fatalf("expected four stages, got %v", sortedKeys(res.Data))
	}
	if len(social.calls) != 1 {
		t.Fatalf("expected one publish, got %d", len(social.calls))
	}
	req := social.calls[0]
	if !strings.HasPrefix(req.Caption, "Hot coffee all day\n\n#coffee #mug") {
		t.Fatalf("caption = %q", req.Caption)
	}
	if !strings.Contains(req.VideoURL, "download.example") {
		t.Fatalf("publish must use the download url, got %s", req.VideoURL)
	}
}

func TestWorkflowStopsAtFailingStage(t *testing.T) {
	platform := workflowPlatform()
	text := (&fakeText{}).
		on("Analyze this TikTok video", analysisAnswer).
		on("Based on the analysis of", "Open with a question.").
		on("high-converting", "sorry, I cannot help with that")
	env := newAgentEnv(t, &backend.Set{Text: text, Media: platform.connector(), Social: &fakeSocial{}})

	res := agent.Invoke(context.Background(), env, NewMarketingWorkflow(env), workflowArgs(WorkflowAnalyzeAndCreate, true))
	if res.OK() {
		t.Fatal("expected failure")
	}
	var se *agent.StageError
	if !errors.As(res.Err(), &se) || se.Stage != StageScript {
		t.Fatalf("expected script stage error, got %v", res.Err())
	}
	if got := sortedKeys(res.Data); len(got) != 1 || got[0] != StageViralAnalysis {
		t.Fatalf("partial data = %v", got)
	}
	if len(platform.timeline.inline) != 0 {
		t.Fatal("video stage must not run")
	}

	out := env.Output()
	if out.Status() != session.StatusError {
		t.Fatalf("message status = %s", out.Status())
	}
	content := out.Content()
	last := content[len(content)-1].(*session.TextContent)
	if last.Status() != session.StatusError || !strings.Contains(last.Text, "Completed stages: viral_analysis") {
		t.Fatalf("unexpected failure report %q (%s)", last.Text, last.Status())
	}
}

func TestWorkflowRequiresInputs(t *testing.T) {
	text := workflowText()
	env := newAgentEnv(t, &backend.Set{Text: text})

	args := workflowArgs(WorkflowViralAnalysis, false)
	delete(args, "input_videos")
	res := agent.Invoke(context.Background(), env, NewMarketingWorkflow(env), args)
	if !errors.Is(res.Err(), agent.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", res.Err())
	}
	if text.count() != 0 {
		t.Fatal("no stage may run")
	}
}

func TestWorkflowScriptOnly(t *testing.T) {
	env := newAgentEnv(t, &backend.Set{Text: workflowText()})
	res := agent.Invoke(context.Background(), env, NewMarketingWorkflow(env), workflowArgs(WorkflowScriptOnly, false))
	if !res.OK() {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if got := sortedKeys(res.Data); len(got) != 1 || got[0] != StageScript {
		t.Fatalf("data keys = %v", got)
	}
}

func TestScriptStoryline(t *testing.T) {
	s := &Script{Scenes: []scriptScene{
		{Timing: "0-3s", Type: "hook", Dialogue: "Hi", VisualDirection: "wave"},
		{Timing: "3-6s", Type: "cta", Dialogue: "Buy", VisualDirection: "logo"},
	}}
	got := s.storyline("Mug")
	if !strings.HasPrefix(got, "Create a 10-second TikTok-style video for Mug:") {
		t.Fatalf("storyline = %q", got)
	}
	if !strings.Contains(got, "Hook (0-3s): Hi - Visual: wave Cta (3-6s): Buy - Visual: logo") {
		t.Fatalf("storyline = %q", got)
	}
	if s.caption("Mug") == "" {
		t.Fatal("empty fallback caption")
	}
}
