package agents

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

const TextToMovieName = "text_to_movie"

var textToMovieSpec = agent.Spec{
	Name:        TextToMovieName,
	Description: "Generates a short movie from a storyline: plans a visual style and scenes, renders each scene with the chosen video engine, adds a background score and composes the final video.",
	Params: map[string]*agent.Param{
		"collection_id": {Type: schema.String, Desc: "Collection ID to store the video", Required: true},
		"engine": {
			Type:    schema.String,
			Desc:    "The video generation engine to use",
			Enum:    []string{backend.EngineStabilityAI, backend.EngineKling, backend.EngineVideoDB},
			Default: backend.EngineVideoDB,
		},
		"audio_engine": {
			Type:    schema.String,
			Desc:    "The audio generation engine to use",
			Enum:    []string{backend.EngineElevenLabs, backend.EngineVideoDB},
			Default: backend.EngineVideoDB,
		},
		"job_type": {
			Type:     schema.String,
			Desc:     "The type of video generation to perform",
			Enum:     []string{"text_to_movie"},
			Required: true,
		},
		"text_to_movie": {
			Type:     schema.Object,
			Desc:     "Text to movie job",
			Required: true,
			Properties: map[string]*agent.Param{
				"storyline":                 {Type: schema.String, Desc: "The storyline to generate the video", Required: true},
				"sound_effects_description": {Type: schema.String, Desc: "Optional description for background music generation"},
				"video_stabilityai_config":  {Type: schema.Object, Desc: "Optional configuration for StabilityAI engine"},
				"video_kling_config":        {Type: schema.Object, Desc: "Optional configuration for Kling engine"},
				"audio_elevenlabs_config":   {Type: schema.Object, Desc: "Optional configuration for ElevenLabs engine"},
			},
		},
	},
}

// TextToMovie runs the movie generation pipeline.
type TextToMovie struct {
	env    *agent.Env
	remove func(string) error
}

func NewTextToMovie(env *agent.Env) agent.Agent {
	return &TextToMovie{env: env, remove: os.Remove}
}

func (a *TextToMovie) Spec() agent.Spec { return textToMovieSpec }

func (a *TextToMovie) Run(ctx context.Context, p agent.Params) agent.Result {
	out := a.env.Output()
	out.Progress("Processing input...")

	vc := session.NewVideoContent(TextToMovieName, "Generating movie...")
	addContent(a.env, vc)

	run, err := a.prepare(ctx, p)
	if err == nil {
		defer run.cleanup()
		err = runMoviePipeline(ctx, run)
	}
	if err != nil {
		logger.Errorf("text_to_movie failed for session %s: %v", a.env.Session.ID, err)
		settle(a.env, vc, err, fmt.Sprintf("Error generating movie: %v", err))
		return agent.Failure(fmt.Errorf("movie generation failed: %w", err))
	}

	vc.Video = &session.VideoData{StreamURL: run.streamURL, CollectionID: run.collectionID}
	settle(a.env, vc, nil, "Movie generation complete")
	return agent.Success("Movie generated successfully", map[string]any{"video_url": run.streamURL})
}

// prepare validates engines and resolves backends before any generation
// call is made.
func (a *TextToMovie) prepare(ctx context.Context, p agent.Params) (*movieRun, error) {
	engine := p.String("engine")
	audioEngine := p.String("audio_engine")
	job := p.Map("text_to_movie")

	if p.String("job_type") != "text_to_movie" {
		return nil, fmt.Errorf("unsupported job type: %s", p.String("job_type"))
	}
	profile, ok := engineProfiles[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedEngine, engine)
	}
	if audioEngine != backend.EngineElevenLabs && audioEngine != backend.EngineVideoDB {
		return nil, fmt.Errorf("%w: audio engine %s", backend.ErrUnsupportedEngine, audioEngine)
	}
	if !a.env.HasVideoEngine(engine) {
		return nil, &backend.Error{Backend: engine, Op: "video", Err: backend.ErrMissingCredentials}
	}
	if !a.env.HasAudioEngine(audioEngine) {
		return nil, &backend.Error{Backend: audioEngine, Op: "audio", Err: backend.ErrMissingCredentials}
	}
	if a.env.Backends.Text == nil {
		return nil, &backend.Error{Backend: "llm", Op: "generate", Err: backend.ErrNotConfigured}
	}

	media, err := a.env.Media(ctx)
	if err != nil {
		return nil, err
	}
	video, err := a.env.VideoEngine(ctx, engine)
	if err != nil {
		return nil, err
	}
	audio, err := a.env.AudioEngine(ctx, audioEngine)
	if err != nil {
		return nil, err
	}

	run := &movieRun{
		env:              a.env,
		remove:           a.remove,
		collectionID:     p.String("collection_id"),
		storyline:        job.String("storyline"),
		soundDescription: job.String("sound_effects_description"),
		profile:          profile,
		video:            video,
		videoConfig:      job.Raw(profile.ConfigKey),
		audio:            audio,
		media:            media,
		temp:             map[string]bool{},
	}
	if audioEngine == backend.EngineElevenLabs {
		run.audioConfig = job.Raw("audio_elevenlabs_config")
	}
	return run, nil
}

// movieRun is the state threaded through the pipeline stages.
type movieRun struct {
	env    *agent.Env
	remove func(string) error

	collectionID     string
	storyline        string
	soundDescription string
	profile          engineProfile

	video       backend.VideoGenerator
	videoConfig map[string]interface{}
	audio       backend.AudioGenerator
	audioConfig map[string]interface{}
	media       backend.MediaPlatform

	style         *visualStyle
	scenes        []*scene
	results       []sceneResult
	totalDuration float64
	audioMedia    *backend.Media
	streamURL     string

	temp map[string]bool
	err  error
}

type sceneResult struct {
	Index int
	Path  string
	Media *backend.Media
}

func (r *movieRun) progress(action string) {
	r.env.Output().Progress(action)
}

func (r *movieRun) track(path string) { r.temp[path] = true }

func (r *movieRun) release(path string) {
	if !r.temp[path] {
		return
	}
	delete(r.temp, path)
	removeQuietly(r.remove, path)
}

// cleanup removes temp files a failed run left behind.
func (r *movieRun) cleanup() {
	for path := range r.temp {
		r.release(path)
	}
}

// fail records err as the run's failure so it survives graph error wrapping.
func (r *movieRun) fail(err error) (*movieRun, error) {
	r.err = err
	return r, err
}

func (r *movieRun) styleStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	style, err := generateStyle(ctx, r.env, r.storyline)
	if err != nil {
		return r.fail(&agent.StageError{Stage: "style", Err: err})
	}
	r.style = style
	return r, nil
}

func (r *movieRun) scenesStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	scenes, err := generateScenes(ctx, r.env, r.storyline, r.style, r.profile)
	if err != nil {
		return r.fail(&agent.StageError{Stage: "scenes", Err: err})
	}
	if len(scenes) == 0 {
		return r.fail(&agent.StageError{Stage: "scenes", Err: fmt.Errorf("no scenes planned")})
	}
	r.scenes = scenes
	r.progress(fmt.Sprintf("Generating %d videos...", len(scenes)))
	return r, nil
}

// generateStage renders scenes one by one in index order and stops at the
// first failure.
func (r *movieRun) generateStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	for i, sc := range r.scenes {
		n := i + 1
		r.progress(fmt.Sprintf("Generating video for scene %d...", n))

		media, path, err := r.generateScene(ctx, sc)
		if err != nil {
			r.progress(fmt.Sprintf("Scene %d failed: %v", n, err))
			return r.fail(&agent.StageError{Stage: "scene", Index: n, Err: err})
		}
		r.results = append(r.results, sceneResult{Index: i, Path: path, Media: media})
		r.progress(fmt.Sprintf("Scene %d generated", n))
	}
	return r, nil
}

func (r *movieRun) generateScene(ctx context.Context, sc *scene) (*backend.Media, string, error) {
	prompt, err := enginePrompt(ctx, r.env, sc, r.style, r.profile)
	if err != nil {
		return nil, "", err
	}
	path, err := tempPath(r.env, ".mp4")
	if err != nil {
		return nil, "", err
	}
	r.track(path)

	media, err := callSaving(ctx, r.env, r.remove, path, r.profile.Name, "text_to_video", func(ctx context.Context) (*backend.Media, error) {
		return r.video.TextToVideo(ctx, backend.VideoRequest{
			CollectionID: r.collectionID,
			Prompt:       prompt,
			Duration:     sc.Duration,
			SaveAt:       path,
			Config:       r.videoConfig,
		})
	})
	return media, path, err
}

func (r *movieRun) uploadStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	r.progress(fmt.Sprintf("Uploading %d videos...", len(r.results)))

	for _, res := range r.results {
		media := res.Media
		if media == nil {
			r.progress(fmt.Sprintf("Uploading video %d...", res.Index+1))
			uploaded, err := r.upload(ctx, res.Path, backend.MediaVideo)
			if err != nil {
				return r.fail(&agent.StageError{Stage: "upload", Index: res.Index + 1, Err: err})
			}
			media = uploaded
		}
		r.totalDuration += media.Length
		r.scenes[res.Index].Video = media
		r.release(res.Path)
	}
	r.env.Session.EmitEvent(session.MediaUpdated(r.collectionID, backend.MediaVideo))
	return r, nil
}

func (r *movieRun) upload(ctx context.Context, path string, mediaType backend.MediaType) (*backend.Media, error) {
	return call(ctx, r.env, "media", "upload", func(ctx context.Context) (*backend.Media, error) {
		return r.media.Upload(ctx, r.collectionID, backend.UploadRequest{
			Source:     path,
			SourceType: backend.SourceFile,
			MediaType:  mediaType,
		})
	})
}

// audioStage targets the summed length of the uploaded clips, which may
// differ from the planned scene durations.
func (r *movieRun) audioStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	description := r.soundDescription
	if description == "" {
		d, err := generateAudioPrompt(ctx, r.env, r.storyline)
		if err != nil {
			return r.fail(&agent.StageError{Stage: "audio", Err: err})
		}
		description = d
	}

	r.progress("Generating background music...")
	path, err := tempPath(r.env, ".mp3")
	if err != nil {
		return r.fail(&agent.StageError{Stage: "audio", Err: err})
	}
	r.track(path)
	defer r.release(path)

	media, err := callSaving(ctx, r.env, r.remove, path, "audio", "sound_effect", func(ctx context.Context) (*backend.Media, error) {
		return r.audio.SoundEffect(ctx, backend.AudioRequest{
			CollectionID: r.collectionID,
			Prompt:       description,
			Duration:     r.totalDuration,
			SaveAt:       path,
			Config:       r.audioConfig,
		})
	})
	if err != nil {
		return r.fail(&agent.StageError{Stage: "audio", Err: err})
	}
	if media == nil {
		r.progress("Uploading background music...")
		media, err = r.upload(ctx, path, backend.MediaAudio)
		if err != nil {
			return r.fail(&agent.StageError{Stage: "audio", Err: err})
		}
		r.env.Session.EmitEvent(session.MediaUpdated(r.collectionID, backend.MediaAudio))
	}
	r.audioMedia = media
	return r, nil
}

func (r *movieRun) composeStage(ctx context.Context, _ *movieRun) (*movieRun, error) {
	r.progress("Combining assets into final video...")

	stream, err := call(ctx, r.env, "media", "compose", func(ctx context.Context) (string, error) {
		timeline, err := r.media.NewTimeline(ctx)
		if err != nil {
			return "", err
		}
		for _, sc := range r.scenes {
			timeline.AddInline(backend.VideoAsset{AssetID: sc.Video.ID})
		}
		if r.audioMedia != nil {
			timeline.AddOverlay(0, backend.AudioAsset{AssetID: r.audioMedia.ID, DisableOtherTracks: true})
		}
		return timeline.GenerateStream(ctx)
	})
	if err != nil {
		return r.fail(&agent.StageError{Stage: "compose", Err: err})
	}
	r.streamURL = stream
	return r, nil
}

const (
	nodeStyle    = "Style"
	nodeScenes   = "Scenes"
	nodeGenerate = "GenerateScenes"
	nodeUpload   = "UploadScenes"
	nodeAudio    = "Audio"
	nodeCompose  = "Compose"
)

// movieGraph wires the stages in order. Stages are methods of the run that
// flows through the graph, so one compiled graph serves every run.
func movieGraph(ctx context.Context) (compose.Runnable[*movieRun, *movieRun], error) {
	g := compose.NewGraph[*movieRun, *movieRun]()

	stages := []struct {
		name string
		fn   func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error)
	}{
		{nodeStyle, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.styleStage }},
		{nodeScenes, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.scenesStage }},
		{nodeGenerate, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.generateStage }},
		{nodeUpload, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.uploadStage }},
		{nodeAudio, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.audioStage }},
		{nodeCompose, func(r *movieRun) func(context.Context, *movieRun) (*movieRun, error) { return r.composeStage }},
	}

	prev := compose.START
	for _, st := range stages {
		stage := st.fn
		lambda := compose.InvokableLambda(func(ctx context.Context, r *movieRun) (*movieRun, error) {
			return stage(r)(ctx, r)
		})
		if err := g.AddLambdaNode(st.name, lambda, compose.WithNodeName(st.name)); err != nil {
			return nil, err
		}
		if err := g.AddEdge(prev, st.name); err != nil {
			return nil, err
		}
		prev = st.name
	}
	if err := g.AddEdge(prev, compose.END); err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName(TextToMovieName))
}

type stageStartKey struct{}

// stageLogger logs the start, end and failure of every pipeline node.
func stageLogger(sessionID string) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			logger.WithFields(map[string]interface{}{"session_id": sessionID, "stage": info.Name}).Debug("Stage started")
			return context.WithValue(ctx, stageStartKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			fields := map[string]interface{}{"session_id": sessionID, "stage": info.Name}
			if start, ok := ctx.Value(stageStartKey{}).(time.Time); ok {
				fields["elapsed"] = time.Since(start).String()
			}
			logger.WithFields(fields).Info("Stage finished")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.WithFields(map[string]interface{}{"session_id": sessionID, "stage": info.Name}).Warnf("Stage failed: %v", err)
			return ctx
		}).
		Build()
}

func runMoviePipeline(ctx context.Context, run *movieRun) error {
	runnable, err := movieGraph(ctx)
	if err != nil {
		return fmt.Errorf("build movie pipeline: %w", err)
	}
	_, err = runnable.Invoke(ctx, run, compose.WithCallbacks(stageLogger(run.env.Session.ID)))
	if run.err != nil {
		return run.err
	}
	return err
}
