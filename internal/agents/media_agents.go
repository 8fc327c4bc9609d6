package agents

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/session"
)

const (
	ImageGenerationName = "image_generation"
	AudioGenerationName = "audio_generation"
)

var imageGenerationSpec = agent.Spec{
	Name:        ImageGenerationName,
	Description: "Generates an image from a text prompt, optionally storing it in a collection",
	Params: map[string]*agent.Param{
		"prompt":        {Type: schema.String, Desc: "Description of the image to generate", Required: true},
		"collection_id": {Type: schema.String, Desc: "Collection to upload the image to (optional)"},
		"size": {
			Type:    schema.String,
			Desc:    "Image size",
			Enum:    []string{"1024x1024", "1792x1024", "1024x1792"},
			Default: "1024x1024",
		},
	},
}

type ImageGeneration struct {
	env *agent.Env
}

func NewImageGeneration(env *agent.Env) agent.Agent {
	return &ImageGeneration{env: env}
}

func (a *ImageGeneration) Spec() agent.Spec { return imageGenerationSpec }

func (a *ImageGeneration) Run(ctx context.Context, p agent.Params) agent.Result {
	prompt := p.String("prompt")
	collectionID := p.String("collection_id")

	ic := session.NewImageContent(ImageGenerationName, "Generating image...")
	addContent(a.env, ic)
	fail := func(err error) agent.Result {
		settle(a.env, ic, err, fmt.Sprintf("Error generating image: %v", err))
		return agent.Failure(err)
	}

	gen := a.env.Backends.Image
	if gen == nil {
		return fail(&backend.Error{Backend: "openai", Op: "image", Err: backend.ErrMissingCredentials})
	}

	a.env.Output().Progress("Generating image...")
	img, err := call(ctx, a.env, "openai", "text_to_image", func(ctx context.Context) (*backend.Media, error) {
		return gen.TextToImage(ctx, backend.ImageRequest{Prompt: prompt, Size: p.String("size")})
	})
	if err != nil {
		return fail(err)
	}

	data := &session.ImageData{URL: img.URL, Description: img.Description, Name: truncateRunes(prompt, 60)}
	if collectionID != "" {
		a.env.Output().Progress("Uploading image to collection...")
		media, err := a.env.Media(ctx)
		if err != nil {
			return fail(err)
		}
		uploaded, err := call(ctx, a.env, "media", "upload", func(ctx context.Context) (*backend.Media, error) {
			return media.Upload(ctx, collectionID, backend.UploadRequest{
				Source:     img.URL,
				SourceType: backend.SourceURL,
				MediaType:  backend.MediaImage,
				Name:       data.Name,
			})
		})
		if err != nil {
			return fail(err)
		}
		data.ID = uploaded.ID
		data.CollectionID = uploaded.CollectionID
		if uploaded.URL != "" {
			data.URL = uploaded.URL
		}
		a.env.Session.EmitEvent(session.MediaUpdated(collectionID, backend.MediaImage))
	}

	ic.Image = data
	settle(a.env, ic, nil, "Image generated successfully")
	return agent.Success("Image generated successfully", map[string]any{"image": data})
}

var audioGenerationSpec = agent.Spec{
	Name:        AudioGenerationName,
	Description: "Generates sound effects and speech and stores them in a collection",
	Params: map[string]*agent.Param{
		"collection_id": {Type: schema.String, Desc: "Collection to store the audio", Required: true},
		"engine": {
			Type:    schema.String,
			Desc:    "Engine to use: videodb and elevenlabs generate sound effects, openai generates speech",
			Enum:    []string{backend.EngineVideoDB, backend.EngineElevenLabs, backend.EngineOpenAI},
			Default: backend.EngineVideoDB,
		},
		"job_type": {
			Type:     schema.String,
			Desc:     "The type of audio generation to perform",
			Enum:     []string{"sound_effect", "text_to_speech"},
			Required: true,
		},
		"sound_effect": {
			Type: schema.Object,
			Properties: map[string]*agent.Param{
				"prompt":            {Type: schema.String, Desc: "The prompt to generate the sound effect", Required: true},
				"duration":          {Type: schema.Number, Desc: "Duration of the sound effect in seconds", Default: 2.0},
				"elevenlabs_config": {Type: schema.Object, Desc: "Config for the elevenlabs engine"},
			},
		},
		"text_to_speech": {
			Type: schema.Object,
			Properties: map[string]*agent.Param{
				"text":          {Type: schema.String, Desc: "The text to convert to speech", Required: true},
				"openai_config": {Type: schema.Object, Desc: "Config for the openai engine, e.g. voice"},
			},
		},
	},
}

type AudioGeneration struct {
	env *agent.Env
}

func NewAudioGeneration(env *agent.Env) agent.Agent {
	return &AudioGeneration{env: env}
}

func (a *AudioGeneration) Spec() agent.Spec { return audioGenerationSpec }

func (a *AudioGeneration) Run(ctx context.Context, p agent.Params) agent.Result {
	engine := p.String("engine")
	collectionID := p.String("collection_id")

	tc := session.NewTextContent(AudioGenerationName, "Generating audio...")
	addContent(a.env, tc)
	fail := func(err error) agent.Result {
		settle(a.env, tc, err, fmt.Sprintf("Error generating audio: %v", err))
		return agent.Failure(err)
	}

	var (
		media *backend.Media
		err   error
	)
	switch job := p.String("job_type"); job {
	case "sound_effect":
		media, err = a.soundEffect(ctx, engine, collectionID, p.Map("sound_effect"))
	case "text_to_speech":
		media, err = a.speech(ctx, engine, collectionID, p.Map("text_to_speech"))
	default:
		err = fmt.Errorf("%w: job type %q", agent.ErrInvalidParams, job)
	}
	if err != nil {
		return fail(err)
	}

	a.env.Session.EmitEvent(session.MediaUpdated(collectionID, backend.MediaAudio))
	tc.Text = fmt.Sprintf("Audio generated and stored with id %s in collection %s.", media.ID, collectionID)
	settle(a.env, tc, nil, "Audio generated successfully")
	return agent.Success("Audio generated successfully", map[string]any{
		"audio_id":      media.ID,
		"collection_id": collectionID,
		"stream_url":    media.StreamURL,
	})
}

func (a *AudioGeneration) soundEffect(ctx context.Context, engine, collectionID string, job agent.Params) (*backend.Media, error) {
	if job.String("prompt") == "" {
		return nil, fmt.Errorf("%w: sound_effect.prompt is required", agent.ErrInvalidParams)
	}
	if engine == backend.EngineOpenAI {
		return nil, fmt.Errorf("%w: %s cannot generate sound effects", backend.ErrUnsupportedEngine, engine)
	}
	if !a.env.HasAudioEngine(engine) {
		return nil, &backend.Error{Backend: engine, Op: "audio", Err: backend.ErrMissingCredentials}
	}
	gen, err := a.env.AudioEngine(ctx, engine)
	if err != nil {
		return nil, err
	}
	duration := 2.0
	if d, ok := job["duration"].(float64); ok && d > 0 {
		duration = d
	}

	path, err := tempPath(a.env, ".mp3")
	if err != nil {
		return nil, err
	}
	defer removeQuietly(os.Remove, path)

	a.env.Output().Progress("Generating sound effect...")
	media, err := callSaving(ctx, a.env, os.Remove, path, engine, "sound_effect", func(ctx context.Context) (*backend.Media, error) {
		return gen.SoundEffect(ctx, backend.AudioRequest{
			CollectionID: collectionID,
			Prompt:       job.String("prompt"),
			Duration:     duration,
			SaveAt:       path,
			Config:       job.Raw("elevenlabs_config"),
		})
	})
	if err != nil || media != nil {
		return media, err
	}
	return a.uploadAudio(ctx, collectionID, path)
}

func (a *AudioGeneration) speech(ctx context.Context, engine, collectionID string, job agent.Params) (*backend.Media, error) {
	if job.String("text") == "" {
		return nil, fmt.Errorf("%w: text_to_speech.text is required", agent.ErrInvalidParams)
	}
	if engine != backend.EngineOpenAI {
		return nil, fmt.Errorf("%w: %s cannot generate speech", backend.ErrUnsupportedEngine, engine)
	}
	gen := a.env.Backends.Speech
	if gen == nil {
		return nil, &backend.Error{Backend: engine, Op: "speech", Err: backend.ErrMissingCredentials}
	}

	path, err := tempPath(a.env, ".mp3")
	if err != nil {
		return nil, err
	}
	defer removeQuietly(os.Remove, path)

	a.env.Output().Progress("Generating speech...")
	if _, err := callSaving(ctx, a.env, os.Remove, path, engine, "text_to_speech", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, gen.TextToSpeech(ctx, backend.SpeechRequest{
			Text:   job.String("text"),
			SaveAt: path,
			Config: job.Raw("openai_config"),
		})
	}); err != nil {
		return nil, err
	}
	return a.uploadAudio(ctx, collectionID, path)
}

func (a *AudioGeneration) uploadAudio(ctx context.Context, collectionID, path string) (*backend.Media, error) {
	media, err := a.env.Media(ctx)
	if err != nil {
		return nil, err
	}
	a.env.Output().Progress("Uploading audio...")
	return call(ctx, a.env, "media", "upload", func(ctx context.Context) (*backend.Media, error) {
		return media.Upload(ctx, collectionID, backend.UploadRequest{
			Source:     path,
			SourceType: backend.SourceFile,
			MediaType:  backend.MediaAudio,
		})
	})
}
