package backend

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sashabaranov/go-openai"
)

func newOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredentials)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// OpenAIImage generates images with the OpenAI images API.
type OpenAIImage struct {
	client *openai.Client
	model  string
}

func NewOpenAIImage(apiKey, baseURL, model string) (*OpenAIImage, error) {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIImage{client: client, model: model}, nil
}

func (g *OpenAIImage) TextToImage(ctx context.Context, req ImageRequest) (*Media, error) {
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          g.model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, Wrap("openai", "create_image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, &Error{Backend: "openai", Op: "create_image", Err: fmt.Errorf("%w: no image returned", ErrMalformedResponse)}
	}
	desc := resp.Data[0].RevisedPrompt
	if desc == "" {
		desc = req.Prompt
	}
	return &Media{Type: MediaImage, URL: resp.Data[0].URL, Description: desc}, nil
}

// OpenAISpeech converts text to speech with the OpenAI audio API.
type OpenAISpeech struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

func NewOpenAISpeech(apiKey, baseURL, model, voice string) (*OpenAISpeech, error) {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	s := &OpenAISpeech{client: client, model: openai.TTSModel1, voice: openai.VoiceAlloy}
	if model != "" {
		s.model = openai.SpeechModel(model)
	}
	if voice != "" {
		s.voice = openai.SpeechVoice(voice)
	}
	return s, nil
}

func (s *OpenAISpeech) TextToSpeech(ctx context.Context, req SpeechRequest) error {
	voice := s.voice
	if v, ok := req.Config["voice"].(string); ok && v != "" {
		voice = openai.SpeechVoice(v)
	}
	audio, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Wrap("openai", "create_speech", err)
	}
	defer audio.Close()

	f, err := os.Create(req.SaveAt)
	if err != nil {
		return Wrap("openai", "save", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, audio); err != nil {
		return Wrap("openai", "save", err)
	}
	return nil
}
