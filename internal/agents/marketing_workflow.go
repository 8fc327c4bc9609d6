package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
)

const MarketingWorkflowName = "tiktok_marketing_workflow"

const (
	WorkflowAnalyzeAndCreate = "analyze_and_create"
	WorkflowViralAnalysis    = "viral_analysis_only"
	WorkflowScriptOnly       = "script_generation_only"
	WorkflowFullProduction   = "full_production"
)

// Keys of the stage results in the workflow data.
const (
	StageViralAnalysis = "viral_analysis"
	StageScript        = "script"
	StageVideoCreation = "video_creation"
	StageUpload        = "upload"
)

var defaultHashtags = []string{"fyp", "viral", "musthave"}

var marketingWorkflowSpec = agent.Spec{
	Name:        MarketingWorkflowName,
	Description: "Orchestrates complete TikTok marketing workflow from viral analysis to video creation and upload",
	Params: map[string]*agent.Param{
		"workflow_type": {
			Type:     schema.String,
			Desc:     "Type of TikTok workflow to execute",
			Enum:     []string{WorkflowAnalyzeAndCreate, WorkflowViralAnalysis, WorkflowScriptOnly, WorkflowFullProduction},
			Required: true,
		},
		"collection_id": {Type: schema.String, Desc: "Collection ID", Required: true},
		"input_videos": {
			Type:  schema.Array,
			Desc:  "Video IDs for viral analysis",
			Items: &agent.Param{Type: schema.String},
		},
		"product_info": productInfoParam(false),
		"video_style": {
			Type:    schema.String,
			Desc:    "Style of TikTok video to create",
			Enum:    []string{"educational", "entertainment", "testimonial", "unboxing", "comparison"},
			Default: "entertainment",
		},
		"auto_upload": {Type: schema.Boolean, Desc: "Whether to automatically upload to TikTok", Default: false},
	},
}

// MarketingWorkflow chains the analysis, script, movie and upload agents.
// Stages run strictly in order and the first failing stage aborts the
// workflow; the data of the completed stages is still returned.
type MarketingWorkflow struct {
	env *agent.Env

	// sub-agent constructors, replaceable in tests
	newAnalysis func(*agent.Env) agent.Agent
	newScript   func(*agent.Env) agent.Agent
	newMovie    func(*agent.Env) agent.Agent
	newUpload   func(*agent.Env) agent.Agent
}

func NewMarketingWorkflow(env *agent.Env) agent.Agent {
	return &MarketingWorkflow{
		env:         env,
		newAnalysis: NewViralAnalysis,
		newScript:   NewScriptGenerator,
		newMovie:    NewTextToMovie,
		newUpload:   NewTikTokUpload,
	}
}

func (w *MarketingWorkflow) Spec() agent.Spec { return marketingWorkflowSpec }

type workflowStage struct {
	key   string
	title string
	done  string
	run   func(ctx context.Context, st *workflowState) agent.Result
}

// workflowState threads stage results to the later stages.
type workflowState struct {
	collectionID string
	inputVideos  []string
	product      agent.Params
	style        string

	analysis map[string]any
	script   *Script
	videoURL string
	results  map[string]any
}

func (w *MarketingWorkflow) plan(p agent.Params) ([]workflowStage, error) {
	analysis := workflowStage{StageViralAnalysis, "Analyzing viral patterns", "Viral patterns identified!", w.runAnalysis}
	script := workflowStage{StageScript, "Generating optimized TikTok script", "Script generated successfully!", w.runScript}
	video := workflowStage{StageVideoCreation, "Creating TikTok video", "Video created successfully!", w.runMovie}
	upload := workflowStage{StageUpload, "Uploading to TikTok", "Upload completed!", w.runUpload}

	hasVideos := len(p.Strings("input_videos")) > 0
	needProduct := func() error {
		if p.Map("product_info").String("name") == "" {
			return fmt.Errorf("%w: product_info.name is required for %s", agent.ErrInvalidParams, p.String("workflow_type"))
		}
		return nil
	}
	needVideos := func() error {
		if !hasVideos {
			return fmt.Errorf("%w: input_videos is required for %s", agent.ErrInvalidParams, p.String("workflow_type"))
		}
		return nil
	}

	switch wt := p.String("workflow_type"); wt {
	case WorkflowAnalyzeAndCreate:
		if err := needProduct(); err != nil {
			return nil, err
		}
		var stages []workflowStage
		if hasVideos {
			stages = append(stages, analysis)
		}
		stages = append(stages, script, video)
		if p.Bool("auto_upload") {
			stages = append(stages, upload)
		}
		return stages, nil
	case WorkflowViralAnalysis:
		if err := needVideos(); err != nil {
			return nil, err
		}
		return []workflowStage{analysis}, nil
	case WorkflowScriptOnly:
		if err := needProduct(); err != nil {
			return nil, err
		}
		return []workflowStage{script}, nil
	case WorkflowFullProduction:
		if err := needVideos(); err != nil {
			return nil, err
		}
		if err := needProduct(); err != nil {
			return nil, err
		}
		return []workflowStage{analysis, script, video, upload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown workflow type %q", agent.ErrInvalidParams, wt)
	}
}

func (w *MarketingWorkflow) Run(ctx context.Context, p agent.Params) agent.Result {
	workflowType := p.String("workflow_type")
	out := w.env.Output()

	stages, err := w.plan(p)
	if err != nil {
		tc := newText(MarketingWorkflowName, fmt.Sprintf("Workflow could not start: %v", err))
		addContent(w.env, tc)
		settle(w.env, tc, err, "TikTok workflow failed")
		return agent.Failure(err)
	}

	out.Progress(fmt.Sprintf("Starting %s TikTok workflow...", workflowType))
	st := &workflowState{
		collectionID: p.String("collection_id"),
		inputVideos:  p.Strings("input_videos"),
		product:      p.Map("product_info"),
		style:        p.String("video_style"),
		results:      map[string]any{},
	}

	var completed []string
	for i, stage := range stages {
		out.Progress(fmt.Sprintf("Step %d: %s...", i+1, stage.title))

		res := stage.run(ctx, st)
		if !res.OK() {
			err := &agent.StageError{Stage: stage.key, Err: res.Err()}
			tc := newText(MarketingWorkflowName, failureSummary(stage.key, res.Message, completed))
			addContent(w.env, tc)
			settle(w.env, tc, err, "TikTok workflow failed")
			return agent.FailureWith(err, st.results)
		}
		st.results[stage.key] = res.Data
		completed = append(completed, stage.key)
		out.Progress(stage.done)
	}

	tc := newText(MarketingWorkflowName, w.summary(st, workflowType))
	addContent(w.env, tc)
	settle(w.env, tc, nil, "TikTok marketing workflow completed successfully")
	return agent.Success("TikTok marketing workflow completed successfully", st.results)
}

func (w *MarketingWorkflow) runAnalysis(ctx context.Context, st *workflowState) agent.Result {
	res := agent.Execute(ctx, w.env, w.newAnalysis(w.env), map[string]any{
		"video_ids":     st.inputVideos,
		"collection_id": st.collectionID,
	})
	if res.OK() {
		st.analysis = res.Data
	}
	return res
}

func (w *MarketingWorkflow) runScript(ctx context.Context, st *workflowState) agent.Result {
	args := map[string]any{
		"product_info": map[string]any(st.product),
		"video_style":  st.style,
	}
	if st.analysis != nil {
		args["viral_patterns"] = st.analysis
	}
	res := agent.Execute(ctx, w.env, w.newScript(w.env), args)
	if !res.OK() {
		return res
	}
	script, ok := res.Data["script"].(*Script)
	if !ok {
		return agent.Failure(fmt.Errorf("%w: script stage returned no script", backend.ErrMalformedResponse))
	}
	st.script = script
	return res
}

func (w *MarketingWorkflow) runMovie(ctx context.Context, st *workflowState) agent.Result {
	if st.script == nil {
		return agent.Failure(fmt.Errorf("video creation needs a script"))
	}
	name := st.product.String("name")
	res := agent.Execute(ctx, w.env, w.newMovie(w.env), map[string]any{
		"collection_id": st.collectionID,
		"engine":        backend.EngineVideoDB,
		"job_type":      "text_to_movie",
		"text_to_movie": map[string]any{
			"storyline":                 st.script.storyline(name),
			"sound_effects_description": fmt.Sprintf("Upbeat TikTok-style music for %s commercial", name),
		},
	})
	if res.OK() {
		st.videoURL, _ = res.Data["video_url"].(string)
	}
	return res
}

func (w *MarketingWorkflow) runUpload(ctx context.Context, st *workflowState) agent.Result {
	if st.videoURL == "" {
		return agent.Failure(fmt.Errorf("upload needs a generated video"))
	}
	name := st.product.String("name")
	hashtags := defaultHashtags
	if len(st.script.Hashtags) > 0 {
		hashtags = st.script.Hashtags
	}
	return agent.Execute(ctx, w.env, w.newUpload(w.env), map[string]any{
		"video_stream_url": st.videoURL,
		"caption":          st.script.caption(name),
		"hashtags":         hashtags,
	})
}

func (w *MarketingWorkflow) summary(st *workflowState, workflowType string) string {
	var b strings.Builder
	b.WriteString("**TikTok Marketing Workflow Complete!**\n\n")
	if name := st.product.String("name"); name != "" {
		fmt.Fprintf(&b, "**Product:** %s\n\n", name)
	}
	b.WriteString("**Results:**\n")
	if st.analysis != nil {
		analyses, _ := st.analysis["video_analyses"].([]map[string]any)
		fmt.Fprintf(&b, "- Analyzed %d videos for viral patterns\n", len(analyses))
	}
	if _, ok := st.results[StageScript]; ok && st.script != nil {
		fmt.Fprintf(&b, "- Generated %d-scene optimized script\n", len(st.script.Scenes))
	}
	if _, ok := st.results[StageVideoCreation]; ok {
		fmt.Fprintf(&b, "- Created TikTok video: %s\n", st.videoURL)
	}
	upload, uploaded := st.results[StageUpload].(map[string]any)
	if uploaded {
		result, _ := upload["upload_result"].(map[string]any)
		if sim, _ := result["simulation"].(bool); sim {
			b.WriteString("- Simulated TikTok upload (configure API credentials for real uploads)\n")
		} else {
			fmt.Fprintf(&b, "- Uploaded to TikTok: %v\n", result["publish_id"])
		}
	}

	if workflowType == WorkflowAnalyzeAndCreate || workflowType == WorkflowFullProduction {
		next := "Upload to TikTok when ready"
		if uploaded {
			next = "Monitor performance metrics"
		}
		fmt.Fprintf(&b, "\n**Next Steps:**\n1. Review the generated content\n2. Make any desired adjustments\n3. %s\n4. Analyze results for future optimization", next)
	}
	return b.String()
}

func failureSummary(stage, message string, completed []string) string {
	done := "none"
	if len(completed) > 0 {
		done = strings.Join(completed, ", ")
	}
	return fmt.Sprintf("Workflow failed at step %s: %s\nCompleted stages: %s", stage, message, done)
}
