package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"studio-backend/internal/backend"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

// Env is the typed per-turn context agents run in. It holds the session,
// the configured backends and the handles obtained during the turn; Close
// releases them at turn end.
type Env struct {
	Session  *session.Session
	Backends *backend.Set

	mu    sync.Mutex
	media backend.MediaPlatform
}

func NewEnv(s *session.Session, backends *backend.Set) *Env {
	if backends == nil {
		backends = &backend.Set{}
	}
	return &Env{Session: s, Backends: backends}
}

// Output is the turn's output message.
func (e *Env) Output() *session.Message {
	return e.Session.Output
}

// Defaults are the media the session is bound to: its collection and, when
// one is open, its video.
func (e *Env) Defaults() map[string]any {
	d := map[string]any{}
	if e.Session.CollectionID != "" {
		d["collection_id"] = e.Session.CollectionID
	}
	if e.Session.VideoID != "" {
		d["video_id"] = e.Session.VideoID
	}
	return d
}

// withDefaults returns args with the session defaults filled in for the
// top-level parameters of spec the caller left out or empty. args itself is
// not modified.
func (e *Env) withDefaults(spec Spec, args map[string]any) map[string]any {
	defaults := e.Defaults()
	out := make(map[string]any, len(args)+len(defaults))
	for k, v := range args {
		out[k] = v
	}
	for k, v := range defaults {
		if _, declared := spec.Params[k]; !declared {
			continue
		}
		if cur, ok := out[k]; ok && cur != nil && cur != "" {
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Env) StageTimeout() time.Duration {
	return e.Backends.StageTimeout
}

// Media returns the media platform connection, opening it on first use.
func (e *Env) Media(ctx context.Context) (backend.MediaPlatform, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.media != nil {
		return e.media, nil
	}
	if e.Backends.Media == nil {
		return nil, &backend.Error{Backend: "media", Op: "connect", Err: backend.ErrNotConfigured}
	}
	p, err := backend.Call(ctx, e.StageTimeout(), "media", "connect", func(ctx context.Context) (backend.MediaPlatform, error) {
		return e.Backends.Media(ctx)
	})
	if err != nil {
		return nil, err
	}
	e.media = p
	return p, nil
}

// Close releases the handles opened during the turn.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.media == nil {
		return nil
	}
	err := e.media.Close()
	e.media = nil
	if err != nil {
		logger.Warnf("close media connection of session %s: %v", e.Session.ID, err)
	}
	return err
}

// HasVideoEngine reports whether name is a configured video engine without
// opening any connection.
func (e *Env) HasVideoEngine(name string) bool {
	if name == backend.EngineVideoDB {
		return e.Backends.Media != nil
	}
	_, ok := e.Backends.Video[name]
	return ok
}

func (e *Env) HasAudioEngine(name string) bool {
	switch name {
	case backend.EngineVideoDB:
		return e.Backends.Media != nil
	case backend.EngineOpenAI:
		return e.Backends.Speech != nil
	}
	_, ok := e.Backends.Audio[name]
	return ok
}

// VideoEngine resolves a video engine by name. The platform-native engine
// shares the turn's media connection.
func (e *Env) VideoEngine(ctx context.Context, name string) (backend.VideoGenerator, error) {
	if name == backend.EngineVideoDB {
		media, err := e.Media(ctx)
		if err != nil {
			return nil, err
		}
		return backend.PlatformVideo{Platform: media}, nil
	}
	if g, ok := e.Backends.Video[name]; ok {
		return g, nil
	}
	return nil, engineError("video", name)
}

// AudioEngine resolves a sound effect engine by name.
func (e *Env) AudioEngine(ctx context.Context, name string) (backend.AudioGenerator, error) {
	if name == backend.EngineVideoDB {
		media, err := e.Media(ctx)
		if err != nil {
			return nil, err
		}
		return backend.PlatformAudio{Platform: media}, nil
	}
	if g, ok := e.Backends.Audio[name]; ok {
		return g, nil
	}
	return nil, engineError("audio", name)
}

func engineError(kind, name string) error {
	switch name {
	case backend.EngineKling, backend.EngineStabilityAI, backend.EngineElevenLabs, backend.EngineOpenAI:
		return &backend.Error{Backend: name, Op: kind, Err: backend.ErrMissingCredentials}
	}
	return fmt.Errorf("%w: %s engine %q", backend.ErrUnsupportedEngine, kind, name)
}
