package agents

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
)

const (
	defaultSceneDuration = 5
	maxScenes            = 5
	// kling rejects prompts of 2500 characters and more
	maxDetailedPrompt = 2450
)

// engineProfile is what the pipeline knows about a video engine.
type engineProfile struct {
	Name           string
	MaxDuration    int
	PreferredStyle string
	PromptFormat   string
	ConfigKey      string
}

var engineProfiles = map[string]engineProfile{
	backend.EngineKling: {
		Name:           backend.EngineKling,
		MaxDuration:    10,
		PreferredStyle: "cinematic",
		PromptFormat:   "detailed",
		ConfigKey:      "video_kling_config",
	},
	backend.EngineStabilityAI: {
		Name:           backend.EngineStabilityAI,
		MaxDuration:    4,
		PreferredStyle: "photorealistic",
		PromptFormat:   "concise",
		ConfigKey:      "video_stabilityai_config",
	},
	backend.EngineVideoDB: {
		Name:           backend.EngineVideoDB,
		MaxDuration:    6,
		PreferredStyle: "cinematic",
		PromptFormat:   "detailed",
		ConfigKey:      "video_kling_config",
	},
}

type visualStyle struct {
	CameraSetup        string         `json:"camera_setup"`
	ColorGrading       string         `json:"color_grading"`
	LightingStyle      string         `json:"lighting_style"`
	MovementStyle      string         `json:"movement_style"`
	FilmMood           string         `json:"film_mood"`
	DirectorReference  string         `json:"director_reference"`
	CharacterConstants map[string]any `json:"character_constants"`
	SettingConstants   map[string]any `json:"setting_constants"`
}

type scene struct {
	StoryBeat        string `json:"story_beat"`
	SceneDescription string `json:"scene_description"`
	Duration         int    `json:"suggested_duration"`

	Video *backend.Media `json:"-"`
}

const stylePrompt = `As a cinematographer, define a consistent visual style for this short film:
Storyline: {storyline}

Return a JSON response with visual style parameters:
{{
    "camera_setup": "Camera and lens combination",
    "color_grading": "Color grading style and palette",
    "lighting_style": "Core lighting approach",
    "movement_style": "Camera movement philosophy",
    "film_mood": "Overall atmospheric mood",
    "director_reference": "Key director's style to reference",
    "character_constants": {{
        "physical_description": "Consistent character details",
        "costume_details": "Consistent costume elements"
    }},
    "setting_constants": {{
        "time_period": "When this takes place",
        "environment": "Core setting elements that stay consistent"
    }}
}}`

const scenesPrompt = `Break this storyline into 3 distinct scenes maintaining visual consistency.
Generate scene descriptions optimized for {engine} {preferred_style} style.

Visual Style:
- Camera/Lens: {camera_setup}
- Color Grade: {color_grading}
- Lighting: {lighting_style}
- Movement: {movement_style}
- Mood: {film_mood}
- Director Style: {director_reference}

Character Constants:
{character_constants}

Setting Constants:
{setting_constants}

Maximum duration per scene: {max_duration} seconds

Storyline: {storyline}

Return a JSON object with a "scenes" array, each scene having:
{{
    "story_beat": "What happens in this scene",
    "scene_description": "Visual description optimized for {engine}",
    "suggested_duration": "Duration as integer in seconds (max {max_duration})"
}}
Make sure suggested_duration is a number, not a string.`

const concisePrompt = `{director_reference} style.
{scene_description}.
{physical_description}.
{lighting_style}, {color_grading}.
Photorealistic, detailed, high quality, masterful composition.`

const detailedPrompt = `{director_reference} style shot.
Filmed on {camera_setup}.

{scene_description}

Character Details:
{character_constants}

Setting Elements:
{setting_constants}

{lighting_style} lighting.
{color_grading} color palette.
{movement_style} camera movement.

Mood: {film_mood}`

const compressPrompt = `Compress the following prompt to under {limit} characters while maintaining its structure and key information:

{prompt}`

const audioPrompt = `Create a background music description for this storyline:
{storyline}

Focus on:
- Musical genre and style
- Emotional tone
- Instrumentation
- Tempo and rhythm

Keep it concise but descriptive for audio generation.`

func (s *visualStyle) vars() map[string]any {
	return map[string]any{
		"camera_setup":        s.CameraSetup,
		"color_grading":       s.ColorGrading,
		"lighting_style":      s.LightingStyle,
		"movement_style":      s.MovementStyle,
		"film_mood":           s.FilmMood,
		"director_reference":  s.DirectorReference,
		"character_constants": prettyJSON(s.CharacterConstants),
		"setting_constants":   prettyJSON(s.SettingConstants),
	}
}

func generateStyle(ctx context.Context, env *agent.Env, storyline string) (*visualStyle, error) {
	answer, err := generate(ctx, env, stylePrompt, map[string]any{"storyline": storyline}, backend.FormatJSON)
	if err != nil {
		return nil, err
	}
	var style visualStyle
	if err := backend.DecodeJSON(answer, &style); err != nil {
		return nil, err
	}
	return &style, nil
}

func generateScenes(ctx context.Context, env *agent.Env, storyline string, style *visualStyle, profile engineProfile) ([]*scene, error) {
	vars := style.vars()
	vars["storyline"] = storyline
	vars["engine"] = profile.Name
	vars["preferred_style"] = profile.PreferredStyle
	vars["max_duration"] = profile.MaxDuration

	answer, err := generate(ctx, env, scenesPrompt, vars, backend.FormatJSON)
	if err != nil {
		return nil, err
	}
	raw, err := decodeScenes(answer)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxScenes {
		raw = raw[:maxScenes]
	}

	scenes := make([]*scene, 0, len(raw))
	for _, r := range raw {
		scenes = append(scenes, &scene{
			StoryBeat:        r.StoryBeat,
			SceneDescription: r.SceneDescription,
			Duration:         normalizeDuration(r.SuggestedDuration, profile.MaxDuration),
		})
	}
	return scenes, nil
}

type rawScene struct {
	StoryBeat         string `json:"story_beat"`
	SceneDescription  string `json:"scene_description"`
	SuggestedDuration any    `json:"suggested_duration"`
}

// decodeScenes accepts {"scenes": [...]} and a bare array.
func decodeScenes(answer string) ([]rawScene, error) {
	var wrapped struct {
		Scenes []rawScene `json:"scenes"`
	}
	if err := backend.DecodeJSON(answer, &wrapped); err == nil {
		return wrapped.Scenes, nil
	}
	var list []rawScene
	if err := backend.DecodeJSON(answer, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// normalizeDuration coerces an LLM-supplied duration to whole seconds in
// [1, max]. Missing, non-numeric and non-positive values fall back to
// defaultSceneDuration.
func normalizeDuration(v any, max int) int {
	d := defaultSceneDuration
	if f, ok := durationValue(v); ok && f >= 1 {
		d = int(math.Trunc(f))
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

func durationValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

// enginePrompt derives the generation prompt of one scene. Detailed prompts
// are compressed by the LLM and then hard-truncated to the engine budget.
func enginePrompt(ctx context.Context, env *agent.Env, sc *scene, style *visualStyle, profile engineProfile) (string, error) {
	vars := style.vars()
	vars["scene_description"] = sc.SceneDescription

	if profile.PromptFormat == "concise" {
		desc, _ := style.CharacterConstants["physical_description"].(string)
		vars["physical_description"] = desc
		return renderPrompt(ctx, concisePrompt, vars)
	}

	initial, err := renderPrompt(ctx, detailedPrompt, vars)
	if err != nil {
		return "", err
	}
	compressed, err := generate(ctx, env, compressPrompt, map[string]any{
		"limit":  maxDetailedPrompt,
		"prompt": initial,
	}, backend.FormatText)
	if err != nil {
		return "", err
	}
	return truncateRunes(strings.TrimSpace(compressed), maxDetailedPrompt), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func generateAudioPrompt(ctx context.Context, env *agent.Env, storyline string) (string, error) {
	answer, err := generate(ctx, env, audioPrompt, map[string]any{"storyline": storyline}, backend.FormatText)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
