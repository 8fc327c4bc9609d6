package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"studio-backend/internal/model"
)

// Store is the persistence the session needs.
type Store interface {
	MessageStore
	SaveSession(s *model.Session) error
	LoadContext(sessionID string) ([]ContextEntry, error)
	SaveContext(sessionID string, entries []ContextEntry) error
}

// Options identify a session turn. Empty ids are generated.
type Options struct {
	SessionID    string
	ConvID       string
	CollectionID string
	VideoID      string
	Title        string
}

// Session is the unit of continuity of one chat turn: it owns the reasoning
// context and the turn's single live output message.
type Session struct {
	ID           string
	ConvID       string
	CollectionID string
	VideoID      string

	Output *Message

	title       string
	context     []ContextEntry
	store       Store
	broadcaster Broadcaster
}

func New(store Store, b Broadcaster, opts Options) *Session {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.ConvID == "" {
		opts.ConvID = uuid.NewString()
	}
	s := &Session{
		ID:           opts.SessionID,
		ConvID:       opts.ConvID,
		CollectionID: opts.CollectionID,
		VideoID:      opts.VideoID,
		title:        opts.Title,
		store:        store,
		broadcaster:  b,
	}
	s.Output = NewOutputMessage(store, b, s.ID, s.ConvID)
	return s
}

// Create stores the session row and loads the persisted context.
func (s *Session) Create() error {
	now := time.Now()
	if err := s.store.SaveSession(&model.Session{
		ID:           s.ID,
		Title:        s.title,
		CollectionID: s.CollectionID,
		VideoID:      s.VideoID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return s.LoadContext()
}

func (s *Session) LoadContext() error {
	entries, err := s.store.LoadContext(s.ID)
	if err != nil {
		return fmt.Errorf("load context of %s: %w", s.ID, err)
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("context entry %d of %s: %w", i, s.ID, err)
		}
	}
	s.context = entries
	return nil
}

// SaveContext rewrites the persisted context with the in-memory one.
func (s *Session) SaveContext() error {
	if err := s.store.SaveContext(s.ID, s.context); err != nil {
		return fmt.Errorf("save context of %s: %w", s.ID, err)
	}
	return nil
}

// AppendContext validates and appends entries.
func (s *Session) AppendContext(entries ...ContextEntry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.context = append(s.context, entries...)
	return nil
}

func (s *Session) Context() []ContextEntry {
	return append([]ContextEntry(nil), s.context...)
}

// WireContext converts the context for the dispatcher. A leading system
// entry is always kept; the newest maxEntries entries (all when maxEntries
// <= 0), system entry included, follow it. The window never starts on a
// tool entry whose call was cut off.
func (s *Session) WireContext(maxEntries int) []WireMessage {
	var head []ContextEntry
	entries := s.context
	if len(entries) > 0 && entries[0].Role == RoleSystem {
		head, entries = entries[:1], entries[1:]
	}
	if maxEntries > 0 {
		limit := maxEntries - len(head)
		if limit < 1 {
			limit = 1
		}
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
			for len(entries) > 0 && entries[0].Role == RoleTool {
				entries = entries[1:]
			}
		}
	}
	out := make([]WireMessage, 0, len(head)+len(entries))
	for _, e := range head {
		out = append(out, e.ToWireForm())
	}
	for _, e := range entries {
		out = append(out, e.ToWireForm())
	}
	return out
}

// PublishInput records the user's input as an immutable input message.
func (s *Session) PublishInput(text string, parts []model.MessagePart, agents []string) (*Message, error) {
	var content []Content
	if text != "" {
		tc := NewTextContent("", "")
		tc.Text = text
		_ = tc.Succeed("")
		content = append(content, tc)
	}
	for _, p := range parts {
		switch p.Type {
		case "text":
			if p.Text == "" {
				continue
			}
			tc := NewTextContent("", "")
			tc.Text = p.Text
			_ = tc.Succeed("")
			content = append(content, tc)
		case "image":
			ic := NewImageContent("", "")
			ic.Image = &ImageData{URL: p.URL, Name: p.Name, Description: p.Description, ID: p.ID, CollectionID: p.CollectionID}
			_ = ic.Succeed("")
			content = append(content, ic)
		case "video":
			vc := NewVideoContent("", "")
			vc.Video = &VideoData{StreamURL: p.URL, Name: p.Name, Description: p.Description, ID: p.ID, CollectionID: p.CollectionID}
			_ = vc.Succeed("")
			content = append(content, vc)
		}
	}
	in := NewInputMessage(s.store, s.broadcaster, s.ID, s.ConvID, agents, content...)
	if err := in.Publish(); err != nil {
		return in, err
	}
	return in, nil
}
