package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studio-backend/internal/backend"
	"studio-backend/pkg/logger"
)

var (
	ErrLibraryUnavailable = errors.New("media library not available")
	ErrInvalidMediaType   = errors.New("invalid media type")
	ErrInvalidUpload      = errors.New("invalid upload")
)

// LibraryService browses and curates the collections of the media platform.
// Every call opens its own platform connection.
type LibraryService struct {
	connect backend.MediaConnector
}

func NewLibraryService(connect backend.MediaConnector) *LibraryService {
	return &LibraryService{connect: connect}
}

// ParseMediaType accepts the singular and plural names of a media type.
func ParseMediaType(s string) (backend.MediaType, error) {
	switch t := backend.MediaType(strings.TrimSuffix(strings.ToLower(s), "s")); t {
	case backend.MediaVideo, backend.MediaAudio, backend.MediaImage:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMediaType, s)
}

func (s *LibraryService) with(ctx context.Context, fn func(backend.MediaPlatform, backend.MediaLibrary) error) error {
	if s.connect == nil {
		return ErrLibraryUnavailable
	}
	p, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warnf("Close media connection: %v", err)
		}
	}()
	lib, ok := p.(backend.MediaLibrary)
	if !ok {
		return ErrLibraryUnavailable
	}
	return fn(p, lib)
}

func (s *LibraryService) Collections(ctx context.Context) ([]backend.Collection, error) {
	var out []backend.Collection
	err := s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) (err error) {
		out, err = lib.Collections(ctx)
		return err
	})
	return out, err
}

func (s *LibraryService) Collection(ctx context.Context, collectionID string) (*backend.Collection, error) {
	var out *backend.Collection
	err := s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) (err error) {
		out, err = lib.Collection(ctx, collectionID)
		return err
	})
	return out, err
}

func (s *LibraryService) CreateCollection(ctx context.Context, name, description string) (*backend.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidUpload)
	}
	var out *backend.Collection
	err := s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) (err error) {
		out, err = lib.CreateCollection(ctx, name, description)
		return err
	})
	return out, err
}

func (s *LibraryService) DeleteCollection(ctx context.Context, collectionID string) error {
	return s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) error {
		return lib.DeleteCollection(ctx, collectionID)
	})
}

func (s *LibraryService) ListMedia(ctx context.Context, collectionID string, t backend.MediaType) ([]backend.Media, error) {
	var out []backend.Media
	err := s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) (err error) {
		out, err = lib.ListMedia(ctx, collectionID, t)
		return err
	})
	return out, err
}

func (s *LibraryService) GetMedia(ctx context.Context, collectionID string, t backend.MediaType, mediaID string) (*backend.Media, error) {
	var out *backend.Media
	err := s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) (err error) {
		out, err = lib.GetMedia(ctx, collectionID, t, mediaID)
		return err
	})
	return out, err
}

func (s *LibraryService) DeleteMedia(ctx context.Context, collectionID string, t backend.MediaType, mediaID string) error {
	return s.with(ctx, func(_ backend.MediaPlatform, lib backend.MediaLibrary) error {
		return lib.DeleteMedia(ctx, collectionID, t, mediaID)
	})
}

// UploadURL imports the media at url into the collection. Only remote
// sources are accepted; local paths stay private to the agents.
func (s *LibraryService) UploadURL(ctx context.Context, collectionID, url string, t backend.MediaType, name string) (*backend.Media, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: source must be an http(s) url", ErrInvalidUpload)
	}
	var out *backend.Media
	err := s.with(ctx, func(p backend.MediaPlatform, _ backend.MediaLibrary) (err error) {
		out, err = p.Upload(ctx, collectionID, backend.UploadRequest{
			Source:     url,
			SourceType: backend.SourceURL,
			MediaType:  t,
			Name:       name,
		})
		return err
	})
	return out, err
}
