package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Collection is a named container of media on the platform.
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public,omitempty"`
}

// MediaLibrary browses and curates the media stored on the platform.
type MediaLibrary interface {
	Collections(ctx context.Context) ([]Collection, error)
	Collection(ctx context.Context, collectionID string) (*Collection, error)
	CreateCollection(ctx context.Context, name, description string) (*Collection, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	ListMedia(ctx context.Context, collectionID string, t MediaType) ([]Media, error)
	GetMedia(ctx context.Context, collectionID string, t MediaType, mediaID string) (*Media, error)
	DeleteMedia(ctx context.Context, collectionID string, t MediaType, mediaID string) error
}

var _ MediaLibrary = (*HTTPPlatform)(nil)

func (p *HTTPPlatform) Collections(ctx context.Context) ([]Collection, error) {
	var out []Collection
	if err := doJSON(ctx, p.client, http.MethodGet, "/collection", nil, &out); err != nil {
		return nil, Wrap("media", "list_collections", err)
	}
	return out, nil
}

func (p *HTTPPlatform) Collection(ctx context.Context, collectionID string) (*Collection, error) {
	var out Collection
	if err := doJSON(ctx, p.client, http.MethodGet, "/collection/"+collectionID, nil, &out); err != nil {
		return nil, Wrap("media", "get_collection", err)
	}
	return &out, nil
}

func (p *HTTPPlatform) CreateCollection(ctx context.Context, name, description string) (*Collection, error) {
	var out Collection
	body := map[string]string{"name": name, "description": description}
	if err := doJSON(ctx, p.client, http.MethodPost, "/collection", body, &out); err != nil {
		return nil, Wrap("media", "create_collection", err)
	}
	return &out, nil
}

func (p *HTTPPlatform) DeleteCollection(ctx context.Context, collectionID string) error {
	return Wrap("media", "delete_collection", doJSON(ctx, p.client, http.MethodDelete, "/collection/"+collectionID, nil, nil))
}

func (p *HTTPPlatform) ListMedia(ctx context.Context, collectionID string, t MediaType) ([]Media, error) {
	var out []Media
	path := fmt.Sprintf("/collection/%s/%s", collectionID, t)
	if err := doJSON(ctx, p.client, http.MethodGet, path, nil, &out); err != nil {
		return nil, Wrap("media", "list_"+string(t), err)
	}
	for i := range out {
		if out[i].CollectionID == "" {
			out[i].CollectionID = collectionID
		}
		if out[i].Type == "" {
			out[i].Type = t
		}
	}
	return out, nil
}

func (p *HTTPPlatform) GetMedia(ctx context.Context, collectionID string, t MediaType, mediaID string) (*Media, error) {
	var out Media
	path := fmt.Sprintf("/collection/%s/%s/%s", collectionID, t, mediaID)
	if err := doJSON(ctx, p.client, http.MethodGet, path, nil, &out); err != nil {
		return nil, Wrap("media", "get_"+string(t), err)
	}
	if out.CollectionID == "" {
		out.CollectionID = collectionID
	}
	return &out, nil
}

func (p *HTTPPlatform) DeleteMedia(ctx context.Context, collectionID string, t MediaType, mediaID string) error {
	path := fmt.Sprintf("/collection/%s/%s/%s", collectionID, t, mediaID)
	return Wrap("media", "delete_"+string(t), doJSON(ctx, p.client, http.MethodDelete, path, nil, nil))
}
