package backend

import (
	"errors"
	"sort"
	"time"

	"studio-backend/internal/config"
	"studio-backend/pkg/logger"
)

const (
	EngineKling       = "kling"
	EngineStabilityAI = "stabilityai"
	EngineVideoDB     = "videodb"
	EngineElevenLabs  = "elevenlabs"
	EngineOpenAI      = "openai"
)

// Set is every backend configured for the process. Engines keyed by name
// are only present when their credentials are; the platform-native engine
// (EngineVideoDB) is resolved from the media connection per turn.
type Set struct {
	Text      TextGenerator
	Media     MediaConnector
	Video     map[string]VideoGenerator
	Audio     map[string]AudioGenerator
	Speech    SpeechGenerator
	Image     ImageGenerator
	Social    SocialPublisher
	Notifiers map[string]Notifier

	StageTimeout time.Duration
	DownloadsDir string
}

// NewSet builds the backends from cfg. Missing credentials disable the
// backend and are logged, not returned.
func NewSet(cfg *config.Config, text TextGenerator) *Set {
	s := &Set{
		Text:         text,
		Video:        map[string]VideoGenerator{},
		Audio:        map[string]AudioGenerator{},
		Notifiers:    map[string]Notifier{},
		StageTimeout: cfg.Agent.StageTimeout,
		DownloadsDir: cfg.Media.DownloadsDir,
	}

	if cfg.Media.BaseURL != "" {
		s.Media = NewPlatformConnector(cfg.Media.BaseURL, cfg.Media.APIKey, cfg.Media.Timeout)
	}

	engines := map[string]config.EngineConfig{
		EngineKling:       cfg.Engines.Kling,
		EngineStabilityAI: cfg.Engines.StabilityAI,
	}
	for name, ec := range engines {
		e, err := NewRenderEngine(name, ec.BaseURL, ec.APIKey, ec.Timeout)
		if err != nil {
			skip(name, err)
			continue
		}
		s.Video[name] = e
	}

	if el, err := NewElevenLabs(cfg.Engines.ElevenLabs.BaseURL, cfg.Engines.ElevenLabs.APIKey, cfg.Engines.ElevenLabs.Timeout); err != nil {
		skip(EngineElevenLabs, err)
	} else {
		s.Audio[EngineElevenLabs] = el
	}

	if img, err := NewOpenAIImage(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.ImageModel); err != nil {
		skip("openai image", err)
	} else {
		s.Image = img
	}
	if sp, err := NewOpenAISpeech(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.SpeechModel, cfg.OpenAI.Voice); err != nil {
		skip("openai speech", err)
	} else {
		s.Speech = sp
	}

	tk := NewTikTok(cfg.Social.TikTok.BaseURL, cfg.Social.TikTok.AccessToken, cfg.Media.Timeout)
	if tk.Simulated() {
		logger.Warn("TikTok access token not set, uploads run in simulation mode")
	}
	s.Social = tk

	if n, err := NewSlackNotifier(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel); err != nil {
		skip("slack", err)
	} else {
		s.Notifiers["slack"] = n
	}
	if n, err := NewDiscordNotifier(cfg.Notify.Discord.Token, cfg.Notify.Discord.Channel); err != nil {
		skip("discord", err)
	} else {
		s.Notifiers["discord"] = n
	}

	return s
}

func skip(name string, err error) {
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrNotConfigured) {
		logger.Debugf("Backend %s disabled: %v", name, err)
		return
	}
	logger.Warnf("Backend %s disabled: %v", name, err)
}

// Available reports which backends are usable, for the config check.
func (s *Set) Available() map[string]bool {
	out := map[string]bool{
		"llm":    s.Text != nil,
		"media":  s.Media != nil,
		"image":  s.Image != nil,
		"speech": s.Speech != nil,
		"social": s.Social != nil,
	}
	for _, name := range []string{EngineKling, EngineStabilityAI} {
		_, ok := s.Video[name]
		out["video."+name] = ok
	}
	out["video."+EngineVideoDB] = s.Media != nil
	_, ok := s.Audio[EngineElevenLabs]
	out["audio."+EngineElevenLabs] = ok
	for name := range s.Notifiers {
		out["notify."+name] = true
	}
	return out
}

// NotifierNames returns the configured notifier names in sorted order.
func (s *Set) NotifierNames() []string {
	names := make([]string, 0, len(s.Notifiers))
	for name := range s.Notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
