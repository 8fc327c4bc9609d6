package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
)

const ScriptGeneratorName = "tiktok_script_generator"

const defaultScriptDuration = 30

var videoStyles = []string{"educational", "entertainment", "testimonial", "unboxing", "comparison", "transformation", "challenge"}

var styleGuidance = map[string]string{
	"educational":    "Focus on teaching something valuable, use clear explanations, include tips or hacks",
	"entertainment":  "Prioritize humor, surprise elements, trending challenges or memes",
	"testimonial":    "Show authentic before/after, include personal story, emphasize real results",
	"unboxing":       "Build anticipation, show genuine reactions, highlight packaging and first impressions",
	"comparison":     "Create clear contrasts, use split-screen concepts, show dramatic differences",
	"transformation": "Document the journey, show clear before/after, include time progression",
	"challenge":      "Create shareable challenge, encourage participation, use trending format",
}

func productInfoParam(required bool) *agent.Param {
	p := &agent.Param{
		Type: schema.Object,
		Desc: "Product information for the TikTok video",
		Properties: map[string]*agent.Param{
			"name":                  {Type: schema.String, Required: required},
			"description":           {Type: schema.String, Required: required},
			"key_features":          {Type: schema.Array, Items: &agent.Param{Type: schema.String}},
			"target_audience":       {Type: schema.String},
			"price_point":           {Type: schema.String},
			"unique_selling_points": {Type: schema.Array, Items: &agent.Param{Type: schema.String}},
		},
		Required: required,
	}
	return p
}

var scriptGeneratorSpec = agent.Spec{
	Name:        ScriptGeneratorName,
	Description: "Generates optimized TikTok video scripts based on viral patterns, product information, and performance goals",
	Params: map[string]*agent.Param{
		"product_info":   productInfoParam(true),
		"viral_patterns": {Type: schema.Object, Desc: "Viral patterns from analysis agent (optional)"},
		"video_style": {
			Type:     schema.String,
			Desc:     "Style of TikTok video to create",
			Enum:     videoStyles,
			Required: true,
		},
		"duration": {Type: schema.Integer, Desc: "Target video duration in seconds", Default: defaultScriptDuration},
		"target_metrics": {
			Type: schema.Object,
			Desc: "Target performance metrics",
			Properties: map[string]*agent.Param{
				"views":           {Type: schema.Number},
				"engagement_rate": {Type: schema.Number},
				"completion_rate": {Type: schema.Number},
			},
		},
	},
}

const scriptPrompt = `Create a high-converting {duration}-second TikTok script for {video_style} style video.

PRODUCT INFORMATION:
- Name: {name}
- Description: {description}
- Key Features: {key_features}
- Target Audience: {target_audience}
- Price Point: {price_point}
- Unique Selling Points: {usps}

{viral_context}
TARGET PERFORMANCE:
{target_metrics}

SCRIPT STRUCTURE ({duration} seconds):
1. HOOK (0-3 seconds): an immediate attention grabber that stops the scroll
2. PROBLEM/SETUP (3-8 seconds): establish the viewer pain point or desire
3. SOLUTION/DEMO (8-{cta_start} seconds): showcase the product naturally with social proof
4. CALL-TO-ACTION ({cta_start}-{duration} seconds): a clear next step with relevant hashtags

REQUIREMENTS:
- Include trending sound/music suggestions
- Specify visual directions for each scene
- Provide exact voiceover/dialogue text
- Suggest on-screen text overlays
- Include hashtag strategy
- Ensure authenticity and avoid overly salesy tone

STYLE-SPECIFIC ELEMENTS for {video_style}:
{guidance}

Return as structured JSON with the following format:
{{
    "script_overview": "Brief description of the video concept",
    "scenes": [
        {{
            "timing": "0-3s",
            "type": "hook",
            "dialogue": "Exact words to say",
            "visual_direction": "What viewers see",
            "on_screen_text": "Text overlay if any",
            "notes": "Additional direction"
        }}
    ],
    "audio_suggestions": {{
        "trending_sounds": ["sound1", "sound2"],
        "music_style": "description",
        "voice_direction": "tone and pace guidance"
    }},
    "hashtags": ["primary", "secondary", "niche"],
    "posting_strategy": {{
        "best_times": "when to post",
        "caption_suggestions": "full caption text",
        "engagement_tactics": "how to drive comments/shares"
    }}
}}`

type scriptScene struct {
	Timing          string `json:"timing"`
	Type            string `json:"type"`
	Dialogue        string `json:"dialogue"`
	VisualDirection string `json:"visual_direction"`
	OnScreenText    string `json:"on_screen_text,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type audioSuggestions struct {
	TrendingSounds []string `json:"trending_sounds"`
	MusicStyle     string   `json:"music_style"`
	VoiceDirection string   `json:"voice_direction"`
}

type postingStrategy struct {
	BestTimes          string `json:"best_times"`
	CaptionSuggestions string `json:"caption_suggestions"`
	EngagementTactics  string `json:"engagement_tactics"`
}

// Script is the structured TikTok script.
type Script struct {
	Overview        string           `json:"script_overview"`
	Scenes          []scriptScene    `json:"scenes"`
	Audio           audioSuggestions `json:"audio_suggestions"`
	Hashtags        []string         `json:"hashtags"`
	PostingStrategy postingStrategy  `json:"posting_strategy"`
}

type ScriptGenerator struct {
	env *agent.Env
}

func NewScriptGenerator(env *agent.Env) agent.Agent {
	return &ScriptGenerator{env: env}
}

func (a *ScriptGenerator) Spec() agent.Spec { return scriptGeneratorSpec }

func (a *ScriptGenerator) Run(ctx context.Context, p agent.Params) agent.Result {
	product := p.Map("product_info")
	style := p.String("video_style")
	duration := p.Int("duration", defaultScriptDuration)
	if duration <= 5 {
		duration = defaultScriptDuration
	}

	tc := session.NewTextContent(ScriptGeneratorName, "Generating TikTok script...")
	addContent(a.env, tc)

	out := a.env.Output()
	out.Progress(fmt.Sprintf("Generating %s TikTok script for %s...", style, product.String("name")))

	viralContext := ""
	if insights, ok := p.Map("viral_patterns")["insights"]; ok && insights != "" {
		viralContext = fmt.Sprintf("Viral Patterns to Incorporate:\n%v\n", insights)
	}
	metrics := "Optimize for high engagement and conversions"
	if m := p.Raw("target_metrics"); m != nil {
		metrics = prettyJSON(m)
	}

	out.Progress("Generating optimized script content...")
	answer, err := generate(ctx, a.env, scriptPrompt, map[string]any{
		"duration":        duration,
		"cta_start":       duration - 5,
		"video_style":     style,
		"name":            product.String("name"),
		"description":     product.String("description"),
		"key_features":    strings.Join(product.Strings("key_features"), ", "),
		"target_audience": orDefault(product.String("target_audience"), "General TikTok users"),
		"price_point":     orDefault(product.String("price_point"), "Not specified"),
		"usps":            strings.Join(product.Strings("unique_selling_points"), ", "),
		"viral_context":   viralContext,
		"target_metrics":  metrics,
		"guidance":        guidanceFor(style),
	}, backend.FormatJSON)
	if err != nil {
		settle(a.env, tc, err, "Failed to generate TikTok script")
		return agent.Failure(err)
	}

	var script Script
	if err := backend.DecodeJSON(answer, &script); err != nil {
		err = fmt.Errorf("failed to parse script generation response: %w", err)
		settle(a.env, tc, err, "Failed to generate TikTok script")
		return agent.Failure(err)
	}

	out.Progress("Optimizing script for viral potential...")
	tc.Text = formatScript(&script, product.String("name"), style)
	settle(a.env, tc, nil, "TikTok script generated successfully")

	return agent.Success("TikTok script generated successfully", map[string]any{
		"script":       &script,
		"product_info": map[string]any(product),
		"video_style":  style,
		"duration":     duration,
	})
}

func guidanceFor(style string) string {
	if g, ok := styleGuidance[style]; ok {
		return g
	}
	return "Create engaging, authentic content that resonates with your audience"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatScript(s *Script, product, style string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s TikTok Script for %s**\n\n", titleCase(style), product)
	fmt.Fprintf(&b, "**Concept:** %s\n\n", orDefault(s.Overview, "Custom TikTok video"))
	b.WriteString("**Scenes Breakdown:**\n")
	for i, sc := range s.Scenes {
		fmt.Fprintf(&b, "**Scene %d (%s) - %s:**\n", i+1, orDefault(sc.Timing, "N/A"), titleCase(orDefault(sc.Type, "scene")))
		fmt.Fprintf(&b, "- Dialogue: %q\n", orDefault(sc.Dialogue, "N/A"))
		fmt.Fprintf(&b, "- Visual: %s\n", orDefault(sc.VisualDirection, "N/A"))
		if sc.OnScreenText != "" {
			fmt.Fprintf(&b, "- Text Overlay: %s\n", sc.OnScreenText)
		}
	}

	sounds := "To be selected"
	if len(s.Audio.TrendingSounds) > 0 {
		sounds = strings.Join(s.Audio.TrendingSounds, ", ")
	}
	fmt.Fprintf(&b, "\n**Audio Strategy:**\n- Trending Sounds: %s\n- Music Style: %s\n\n", sounds, orDefault(s.Audio.MusicStyle, "Upbeat and engaging"))
	if len(s.Hashtags) > 0 {
		fmt.Fprintf(&b, "**Hashtag Strategy:** %s\n\n", hashtagString(s.Hashtags))
	}
	fmt.Fprintf(&b, "**Posting Strategy:**\n%s\n\n", orDefault(s.PostingStrategy.CaptionSuggestions, "Optimized caption included in script data"))
	fmt.Fprintf(&b, "**Best Posting Times:** %s", orDefault(s.PostingStrategy.BestTimes, "Peak engagement hours"))
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// hashtagString renders tags as "#a #b", normalizing any leading '#'.
func hashtagString(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t != "" {
			parts = append(parts, "#"+t)
		}
	}
	return strings.Join(parts, " ")
}

// storyline renders the script into a single text-to-movie storyline.
func (s *Script) storyline(product string) string {
	parts := make([]string, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		parts = append(parts, fmt.Sprintf("%s (%s): %s - Visual: %s", titleCase(sc.Type), sc.Timing, sc.Dialogue, sc.VisualDirection))
	}
	return fmt.Sprintf("Create a %d-second TikTok-style video for %s:\n\n%s\n\nStyle: Fast-paced, engaging, mobile-optimized vertical video with trending visual elements.",
		len(s.Scenes)*defaultSceneDuration, product, strings.Join(parts, " "))
}

// caption picks the suggested caption, falling back to a generic one.
func (s *Script) caption(product string) string {
	if s.PostingStrategy.CaptionSuggestions != "" {
		return s.PostingStrategy.CaptionSuggestions
	}
	return fmt.Sprintf("Check out %s! You won't believe what happened...", product)
}
