package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

const ViralAnalysisName = "viral_pattern_analysis"

const maxTranscriptChars = 2000

var viralAnalysisSpec = agent.Spec{
	Name:        ViralAnalysisName,
	Description: "Analyzes TikTok videos to identify viral patterns, engagement triggers, and conversion elements that drive views and sales",
	Params: map[string]*agent.Param{
		"video_ids": {
			Type:     schema.Array,
			Desc:     "List of video IDs to analyze for viral patterns",
			Items:    &agent.Param{Type: schema.String},
			Required: true,
		},
		"collection_id": {Type: schema.String, Desc: "Collection containing the videos", Required: true},
		"revenue_data": {
			Type: schema.Object,
			Desc: "Optional revenue/conversion data associated with videos",
			Properties: map[string]*agent.Param{
				"video_revenue_mapping": {Type: schema.Object, Desc: "Mapping of video_id to revenue/conversion metrics"},
			},
		},
	},
}

const videoAnalysisPrompt = `Analyze this TikTok video for viral patterns and engagement triggers:

Video Title: {name}
Duration: {length} seconds
Transcript: {transcript}
Revenue/Performance Data: {revenue}

Identify and categorize:

1. HOOK PATTERNS (first 3 seconds): visual, audio and text hooks
2. ENGAGEMENT TRIGGERS: emotional peaks, interactive elements, curiosity gaps
3. CONVERSION ELEMENTS: product placement, trust signals, call-to-action placement
4. VIRAL MECHANICS: trending phrases, shareability factors, comment-driving elements
5. TIMING ANALYSIS: attention peaks, optimal moments for key information, drop-off points

Return analysis as structured JSON with specific examples and quantified insights.
Format: {{"hook_patterns": [], "engagement_triggers": [], "conversion_elements": [], "viral_mechanics": [], "timing_insights": {{}}}}`

const insightsPrompt = `Based on the analysis of {count} TikTok videos, identify the most effective viral patterns:

Video Analyses: {analyses}

Generate actionable insights:
1. Top 5 most effective hook patterns with examples
2. Best engagement triggers that drive completion rates
3. Optimal timing for product placement and CTAs
4. Most viral elements that increase shareability
5. Common patterns in high-revenue videos

Provide specific, actionable recommendations for creating viral TikTok content.`

// ViralAnalysis analyzes collection videos one by one and aggregates the
// patterns it finds. Videos that cannot be analyzed are skipped.
type ViralAnalysis struct {
	env *agent.Env
}

func NewViralAnalysis(env *agent.Env) agent.Agent {
	return &ViralAnalysis{env: env}
}

func (a *ViralAnalysis) Spec() agent.Spec { return viralAnalysisSpec }

type patternSummary struct {
	ViralElements      []any          `json:"viral_elements"`
	EngagementTriggers []any          `json:"engagement_triggers"`
	ConversionPatterns []any          `json:"conversion_patterns"`
	HookPatterns       []any          `json:"hook_patterns"`
	OptimalTiming      map[string]any `json:"optimal_timing"`
	TrendingElements   []any          `json:"trending_elements"`
}

func newPatternSummary() *patternSummary {
	return &patternSummary{
		ViralElements:      []any{},
		EngagementTriggers: []any{},
		ConversionPatterns: []any{},
		HookPatterns:       []any{},
		OptimalTiming:      map[string]any{},
		TrendingElements:   []any{},
	}
}

func (s *patternSummary) add(analysis map[string]any) {
	s.ViralElements = append(s.ViralElements, listValue(analysis["hook_patterns"])...)
	s.EngagementTriggers = append(s.EngagementTriggers, listValue(analysis["engagement_triggers"])...)
	s.ConversionPatterns = append(s.ConversionPatterns, listValue(analysis["conversion_elements"])...)
}

func listValue(v any) []any {
	list, _ := v.([]any)
	return list
}

func (a *ViralAnalysis) Run(ctx context.Context, p agent.Params) agent.Result {
	videoIDs := p.Strings("video_ids")
	collectionID := p.String("collection_id")
	revenue := p.Map("revenue_data").Map("video_revenue_mapping")

	tc := session.NewTextContent(ViralAnalysisName, "Analyzing viral patterns...")
	addContent(a.env, tc)

	fail := func(err error) agent.Result {
		settle(a.env, tc, err, "Failed to analyze viral patterns")
		return agent.Failure(err)
	}
	if len(videoIDs) == 0 {
		return fail(fmt.Errorf("%w: video_ids is empty", agent.ErrInvalidParams))
	}

	media, err := a.env.Media(ctx)
	if err != nil {
		return fail(err)
	}

	out := a.env.Output()
	out.Progress(fmt.Sprintf("Analyzing %d videos for viral patterns...", len(videoIDs)))

	summary := newPatternSummary()
	analyses := make([]map[string]any, 0, len(videoIDs))
	for i, id := range videoIDs {
		out.Progress(fmt.Sprintf("Analyzing video %d/%d: %s", i+1, len(videoIDs), id))

		analysis, err := a.analyzeVideo(ctx, media, collectionID, id, revenue)
		if err != nil {
			logger.Warnf("viral analysis skipped video %s: %v", id, err)
			continue
		}
		analyses = append(analyses, analysis)
		summary.add(analysis)
	}

	out.Progress("Generating viral pattern insights...")
	insights, err := generate(ctx, a.env, insightsPrompt, map[string]any{
		"count":    len(analyses),
		"analyses": prettyJSON(analyses),
	}, backend.FormatText)
	if err != nil {
		return fail(&agent.StageError{Stage: "insights", Err: err})
	}

	tc.Text = fmt.Sprintf(`**Viral Pattern Analysis Complete**

**Videos Analyzed:** %d/%d

**Key Insights:**
%s

**Pattern Summary:**
- %d viral elements identified
- %d engagement triggers found
- %d conversion patterns analyzed`,
		len(analyses), len(videoIDs), strings.TrimSpace(insights),
		len(summary.ViralElements), len(summary.EngagementTriggers), len(summary.ConversionPatterns))
	settle(a.env, tc, nil, "Viral pattern analysis complete")

	return agent.Success("Viral pattern analysis completed successfully", map[string]any{
		"analysis_results": summary,
		"video_analyses":   analyses,
		"insights":         insights,
	})
}

func (a *ViralAnalysis) analyzeVideo(ctx context.Context, media backend.MediaPlatform, collectionID, videoID string, revenue agent.Params) (map[string]any, error) {
	video, err := call(ctx, a.env, "media", "get_video", func(ctx context.Context) (*backend.Media, error) {
		return media.GetVideo(ctx, collectionID, videoID)
	})
	if err != nil {
		return nil, err
	}

	transcript, err := a.transcript(ctx, media, collectionID, videoID)
	if err != nil {
		return nil, err
	}

	rev := "N/A"
	if v, ok := revenue[videoID]; ok {
		rev = fmt.Sprint(v)
	}
	name := video.Name
	if name == "" {
		name = "Unknown"
	}

	answer, err := generate(ctx, a.env, videoAnalysisPrompt, map[string]any{
		"name":       name,
		"length":     video.Length,
		"transcript": truncateRunes(transcript, maxTranscriptChars),
		"revenue":    rev,
	}, backend.FormatJSON)
	if err != nil {
		return nil, err
	}

	var analysis map[string]any
	if err := backend.DecodeJSON(answer, &analysis); err != nil {
		return nil, err
	}
	analysis["video_id"] = videoID
	analysis["video_name"] = name
	analysis["revenue_data"] = rev
	return analysis, nil
}

// transcript indexes the spoken words once when no transcript exists yet.
func (a *ViralAnalysis) transcript(ctx context.Context, media backend.MediaPlatform, collectionID, videoID string) (string, error) {
	get := func(ctx context.Context) (string, error) {
		return media.Transcript(ctx, collectionID, videoID)
	}
	text, err := call(ctx, a.env, "media", "transcript", get)
	if err == nil {
		return text, nil
	}

	a.env.Output().Progress(fmt.Sprintf("Indexing spoken words for video %s", videoID))
	if _, err := call(ctx, a.env, "media", "index", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, media.IndexSpokenWords(ctx, collectionID, videoID)
	}); err != nil {
		return "", err
	}
	return call(ctx, a.env, "media", "transcript", get)
}
