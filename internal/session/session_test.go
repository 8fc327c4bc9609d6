package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"studio-backend/internal/backend"
	"studio-backend/internal/model"
)

type memStore struct {
	mu       sync.Mutex
	records  map[string]*model.MessageRecord
	upserts  int
	sessions map[string]*model.Session
	contexts map[string][]ContextEntry
}

func newMemStore() *memStore {
	return &memStore{
		records:  map[string]*model.MessageRecord{},
		sessions: map[string]*model.Session{},
		contexts: map[string][]ContextEntry{},
	}
}

func (s *memStore) UpsertMessage(rec *model.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.upserts++
	return nil
}

func (s *memStore) SaveSession(m *model.Session) error {
	s.sessions[m.ID] = m
	return nil
}

func (s *memStore) LoadContext(id string) ([]ContextEntry, error) {
	return s.contexts[id], nil
}

func (s *memStore) SaveContext(id string, entries []ContextEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	var decoded []ContextEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	s.contexts[id] = decoded
	return nil
}

type recorder struct {
	mu   sync.Mutex
	recs []*model.MessageRecord
	err  error
}

func (r *recorder) Broadcast(convID string, rec *model.MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return r.err
}

func TestContentTransitionsOnce(t *testing.T) {
	tc := NewTextContent("a", "working")
	if tc.Status() != StatusProgress {
		t.Fatalf("status = %s", tc.Status())
	}
	if err := tc.Succeed("done"); err != nil {
		t.Fatal(err)
	}
	if err := tc.Fail("late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
	if tc.StatusMessage != "done" || tc.Status() != StatusSuccess {
		t.Fatalf("content = %+v", tc)
	}
}

func TestOutputMessageLifecycle(t *testing.T) {
	store, b := newMemStore(), &recorder{}
	m := NewOutputMessage(store, b, "s1", "c1")

	tc := NewTextContent("writer", "")
	tc.Text = "hello"
	if err := m.AddContent(tc); err != nil {
		t.Fatal(err)
	}
	m.Progress("Writing...")
	m.Progress("Still writing...")
	if err := m.AddAgent("writer"); err != nil {
		t.Fatal(err)
	}
	_ = m.AddAgent("writer")

	_ = tc.Succeed("")
	if err := m.UpdateStatus(StatusSuccess); err != nil {
		t.Fatal(err)
	}

	if len(store.records) != 1 || store.upserts != 3 {
		t.Fatalf("records = %d, upserts = %d", len(store.records), store.upserts)
	}
	if len(b.recs) != 3 {
		t.Fatalf("broadcasts = %d", len(b.recs))
	}
	final := store.records[m.ID()]
	if final.Status != "success" || len(final.Actions) != 2 || len(final.AgentNames) != 1 {
		t.Fatalf("final = %+v", final)
	}
	var decoded map[string]any
	if err := json.Unmarshal(final.Content[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "text" || decoded["status"] != "success" || decoded["text"] != "hello" {
		t.Fatalf("content = %s", final.Content[0])
	}

	if err := m.AddContent(NewTextContent("", "")); !errors.Is(err, ErrMessageFinalized) {
		t.Fatalf("err = %v", err)
	}
	if err := m.AddAction("more"); !errors.Is(err, ErrMessageFinalized) {
		t.Fatalf("err = %v", err)
	}
}

func TestEarlierSnapshotsAreNotMutated(t *testing.T) {
	store, b := newMemStore(), &recorder{}
	m := NewOutputMessage(store, b, "s1", "c1")
	m.Progress("one")
	m.Progress("two")
	if len(b.recs[0].Actions) != 1 || len(b.recs[1].Actions) != 2 {
		t.Fatalf("actions = %v, %v", b.recs[0].Actions, b.recs[1].Actions)
	}
}

func TestRepeatedPushUpdateIsIdempotent(t *testing.T) {
	store, b := newMemStore(), &recorder{}
	m := NewOutputMessage(store, b, "s1", "c1")
	tc := NewTextContent("writer", "drafting")
	tc.Text = "draft"
	_ = m.AddContent(tc)
	_ = m.AddAction("Drafting...")

	m.PushUpdate()
	m.PushUpdate()

	if len(b.recs) != 2 {
		t.Fatalf("broadcasts = %d", len(b.recs))
	}
	if !reflect.DeepEqual(b.recs[0], b.recs[1]) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", b.recs[0], b.recs[1])
	}
	if b.recs[0] == b.recs[1] {
		t.Fatal("snapshots share one record")
	}
	if len(store.records) != 1 || store.upserts != 2 {
		t.Fatalf("records = %d, upserts = %d", len(store.records), store.upserts)
	}
	if !reflect.DeepEqual(store.records[m.ID()], b.recs[1]) {
		t.Fatal("persisted record differs from the broadcast snapshot")
	}
}

// eventRecorder is a recorder that also takes data events.
type eventRecorder struct {
	recorder
	events   []*model.DataEvent
	eventErr error
}

func (r *eventRecorder) BroadcastEvent(convID string, ev *model.DataEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.eventErr
}

func TestEmitEvent(t *testing.T) {
	b := &eventRecorder{eventErr: errors.New("hub closed")}
	s := New(newMemStore(), b, Options{ConvID: "c1"})
	s.EmitEvent(MediaUpdated("col-1", backend.MediaVideo))
	s.EmitEvent(CollectionsUpdated())

	if len(b.events) != 2 {
		t.Fatalf("events = %d", len(b.events))
	}
	want := model.DataEvent{EventType: "update_data", Update: "videos", CollectionID: "col-1"}
	if *b.events[0] != want {
		t.Fatalf("event = %+v", b.events[0])
	}
	if b.events[1].Update != "collections" || b.events[1].CollectionID != "" {
		t.Fatalf("event = %+v", b.events[1])
	}

	plain := New(newMemStore(), &recorder{}, Options{})
	plain.EmitEvent(CollectionsUpdated())
}

func TestInputMessageIsImmutable(t *testing.T) {
	m := NewInputMessage(nil, nil, "s", "c", []string{"a"})
	if m.Status() != StatusSuccess {
		t.Fatalf("status = %s", m.Status())
	}
	if err := m.AddAction("x"); !errors.Is(err, ErrImmutableMessage) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishBroadcastFailureStillPersists(t *testing.T) {
	store, b := newMemStore(), &recorder{err: errors.New("hub closed")}
	m := NewOutputMessage(store, b, "s", "c")
	err := m.Publish()
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("err = %v", err)
	}
	if len(store.records) != 1 {
		t.Fatal("snapshot not persisted")
	}
	m.PushUpdate()
}

func TestMessageIDsAreOrdered(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if id <= prev && len(id) == len(prev) {
			t.Fatalf("%s after %s", id, prev)
		}
		prev = id
	}
}

func TestContextEntryValidation(t *testing.T) {
	if _, err := ToolEntry(" ", "x"); !errors.Is(err, ErrMissingToolCallID) {
		t.Fatalf("err = %v", err)
	}
	if _, err := AssistantEntry("", []ToolCall{{Function: FunctionCall{Name: "x"}}}); !errors.Is(err, ErrInvalidToolCall) {
		t.Fatalf("err = %v", err)
	}
	bad := ContextEntry{Role: "robot"}
	if err := bad.Validate(); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("err = %v", err)
	}
	userWithCalls := ContextEntry{Role: RoleUser, ToolCalls: []ToolCall{{ID: "1", Function: FunctionCall{Name: "x"}}}}
	if err := userWithCalls.Validate(); !errors.Is(err, ErrInvalidToolCall) {
		t.Fatalf("err = %v", err)
	}
}

func TestUserWireFormDescribesUploads(t *testing.T) {
	e := UserEntry(PartsOf(
		model.MessagePart{Type: "text", Text: "make this pop"},
		model.MessagePart{Type: "image", URL: "data:image/png;base64,AAAA", Name: "logo.png"},
		model.MessagePart{Type: "video", ID: "v1", CollectionID: "col"},
	))
	w := e.ToWireForm()
	if len(w.Content.Parts) != 3 {
		t.Fatalf("parts = %+v", w.Content.Parts)
	}
	for _, p := range w.Content.Parts {
		if p.Type != "text" || p.URL != "" {
			t.Fatalf("non-text part leaked: %+v", p)
		}
	}
	img := w.Content.Parts[1].Text
	if !strings.HasPrefix(img, "User has uploaded image with details: ") || strings.Contains(img, "AAAA") {
		t.Fatalf("image = %s", img)
	}
	if !strings.Contains(w.Content.Parts[2].Text, `"collection_id":"col"`) {
		t.Fatalf("video = %s", w.Content.Parts[2].Text)
	}
	// the stored entry is untouched
	if e.Content.Parts[1].Type != "image" {
		t.Fatal("entry mutated")
	}
}

func TestAssistantWireFormWithoutText(t *testing.T) {
	e, err := AssistantEntry("", []ToolCall{{ID: "c1", Type: "function", Function: FunctionCall{Name: "x", Arguments: "{}"}}})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(e.ToWireForm())
	if !strings.Contains(string(raw), `"content":[]`) || !strings.Contains(string(raw), `"id":"c1"`) {
		t.Fatalf("wire = %s", raw)
	}
}

func TestContextRoundTrip(t *testing.T) {
	store := newMemStore()
	s := New(store, nil, Options{Title: "t"})
	if err := s.Create(); err != nil {
		t.Fatal(err)
	}
	call, _ := AssistantEntry("", []ToolCall{{ID: "c1", Type: "function", Function: FunctionCall{Name: "x", Arguments: `{"a":1}`}}})
	tool, _ := ToolEntry("c1", `{"status":"success"}`)
	if err := s.AppendContext(
		SystemEntry("sys"),
		UserEntry(PartsOf(model.MessagePart{Type: "text", Text: "hi"})),
		call,
		tool,
	); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveContext(); err != nil {
		t.Fatal(err)
	}

	again := New(store, nil, Options{SessionID: s.ID})
	if err := again.LoadContext(); err != nil {
		t.Fatal(err)
	}
	got := again.Context()
	if len(got) != 4 {
		t.Fatalf("entries = %d", len(got))
	}
	if !got[1].Content.IsStructured() || got[1].Content.PlainText() != "hi" {
		t.Fatalf("user = %+v", got[1])
	}
	if got[2].ToolCalls[0].Function.Arguments != `{"a":1}` || got[3].ToolCallID != "c1" {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].Content.IsStructured() {
		t.Fatal("system content became structured")
	}
}

func TestWireContextWindowSkipsOrphanTool(t *testing.T) {
	s := New(newMemStore(), nil, Options{})
	call, _ := AssistantEntry("", []ToolCall{{ID: "c1", Function: FunctionCall{Name: "x"}}})
	tool, _ := ToolEntry("c1", "ok")
	_ = s.AppendContext(SystemEntry("sys"), UserEntry(TextOf("hi")), call, tool, UserEntry(TextOf("next")))

	w := s.WireContext(3)
	if len(w) != 2 || w[0].Role != RoleSystem || w[1].Role != RoleUser {
		t.Fatalf("window = %+v", w)
	}
	if all := s.WireContext(0); len(all) != 5 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestWireContextKeepsSystemPrompt(t *testing.T) {
	s := New(newMemStore(), nil, Options{})
	_ = s.AppendContext(SystemEntry("sys"))
	for i := 0; i < 6; i++ {
		reply, _ := AssistantEntry(fmt.Sprintf("reply %d", i), nil)
		_ = s.AppendContext(UserEntry(TextOf(fmt.Sprintf("question %d", i))), reply)
	}

	w := s.WireContext(4)
	if len(w) != 4 {
		t.Fatalf("window len = %d", len(w))
	}
	if w[0].Role != RoleSystem {
		t.Fatalf("first role = %s", w[0].Role)
	}
	if w[1].Role != RoleAssistant || w[3].Role != RoleAssistant {
		t.Fatalf("window = %+v", w)
	}

	if w := s.WireContext(1); len(w) != 2 || w[0].Role != RoleSystem || w[1].Role != RoleAssistant {
		t.Fatalf("minimal window = %+v", w)
	}
}

func TestPublishInputBuildsContent(t *testing.T) {
	store, b := newMemStore(), &recorder{}
	s := New(store, b, Options{})
	in, err := s.PublishInput("hello", []model.MessagePart{
		{Type: "image", URL: "https://img.example/a.png"},
		{Type: "text"},
	}, []string{"image_generation"})
	if err != nil {
		t.Fatal(err)
	}
	if in.Type() != MsgTypeInput || len(in.Content()) != 2 {
		t.Fatalf("input = %d contents", len(in.Content()))
	}
	if got := Describe(in.Content()[1]); got != "[image/success] https://img.example/a.png" {
		t.Fatalf("describe = %q", got)
	}
	if len(b.recs) != 1 || b.recs[0].AgentNames[0] != "image_generation" {
		t.Fatalf("broadcasts = %+v", b.recs)
	}
}
