package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"studio-backend/internal/config"
	"studio-backend/internal/model"
	"studio-backend/internal/session"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()
	all := map[string]Storage{
		"memory": NewMemoryStorage(),
		"disk":   NewDiskStorage(filepath.Join(dir, "disk"), 2),
		"sqlite": NewSQLiteStorage(filepath.Join(dir, "sqlite", "studio.db"), filepath.Join(dir, "sqlite", "backup")),
	}
	for name, s := range all {
		if err := s.Init(); err != nil {
			t.Fatalf("%s init: %v", name, err)
		}
		st := s
		t.Cleanup(func() { _ = st.Close() })
	}
	return all
}

func record(id, sessionID, convID, status string, actions ...string) *model.MessageRecord {
	now := time.Now()
	return &model.MessageRecord{
		ID:         id,
		SessionID:  sessionID,
		ConvID:     convID,
		MsgType:    "output",
		Status:     status,
		Actions:    append([]string{}, actions...),
		AgentNames: []string{"text_to_movie"},
		Content:    []json.RawMessage{json.RawMessage(`{"type":"text","text":"hi","status":"` + status + `"}`)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			created := time.Now().Add(-time.Hour).Truncate(time.Second)
			if err := s.SaveSession(&model.Session{ID: "s1", Title: "first", CollectionID: "col", CreatedAt: created, UpdatedAt: created}); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveSession(&model.Session{ID: "s1", Title: "renamed", CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
				t.Fatal(err)
			}
			got, err := s.GetSession("s1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "renamed" || !got.CreatedAt.Equal(created) {
				t.Fatalf("session = %+v", got)
			}
			if _, err := s.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestUpsertMessageReplacesById(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			_ = s.SaveSession(&model.Session{ID: "s1", CreatedAt: now, UpdatedAt: now})

			if err := s.UpsertMessage(record("m1", "s1", "c1", "progress", "Generating...")); err != nil {
				t.Fatal(err)
			}
			if err := s.UpsertMessage(record("m2", "s1", "c2", "success")); err != nil {
				t.Fatal(err)
			}
			if err := s.UpsertMessage(record("m1", "s1", "c1", "success", "Generating...", "Done")); err != nil {
				t.Fatal(err)
			}

			msgs, err := s.GetMessages("s1")
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 2 {
				t.Fatalf("messages = %d", len(msgs))
			}
			conv, err := s.GetConversation("s1", "c1")
			if err != nil {
				t.Fatal(err)
			}
			if len(conv) != 1 || conv[0].Status != "success" || len(conv[0].Actions) != 2 {
				t.Fatalf("conversation = %+v", conv)
			}
			var content map[string]string
			if err := json.Unmarshal(conv[0].Content[0], &content); err != nil || content["status"] != "success" {
				t.Fatalf("content = %s", conv[0].Content[0])
			}

			if err := s.UpsertMessage(record("m3", "ghost", "c", "progress")); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("err = %v", err)
			}
			if err := s.UpsertMessage(&model.MessageRecord{SessionID: "s1"}); !errors.Is(err, ErrInvalidData) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			_ = s.SaveSession(&model.Session{ID: "s1", CreatedAt: now, UpdatedAt: now})

			empty, err := s.LoadContext("s1")
			if err != nil || len(empty) != 0 {
				t.Fatalf("empty context = %v, %v", empty, err)
			}

			call, _ := session.AssistantEntry("", []session.ToolCall{{ID: "c1", Type: "function", Function: session.FunctionCall{Name: "text_to_movie", Arguments: "{}"}}})
			tool, _ := session.ToolEntry("c1", "done")
			entries := []session.ContextEntry{
				session.SystemEntry("sys"),
				session.UserEntry(session.PartsOf(model.MessagePart{Type: "image", URL: "https://x/y.png"})),
				call,
				tool,
			}
			if err := s.SaveContext("s1", entries); err != nil {
				t.Fatal(err)
			}
			if err := s.SaveContext("s1", entries[:3]); err != nil {
				t.Fatal(err)
			}
			got, err := s.LoadContext("s1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 {
				t.Fatalf("entries = %d", len(got))
			}
			if got[1].Content.Parts[0].URL != "https://x/y.png" || got[2].ToolCalls[0].ID != "c1" {
				t.Fatalf("entries = %+v", got)
			}
		})
	}
}

func TestDeleteSessions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			_ = s.SaveSession(&model.Session{ID: "old", CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)})
			_ = s.SaveSession(&model.Session{ID: "fresh", CreatedAt: now, UpdatedAt: now})
			_ = s.SaveSession(&model.Session{ID: "gone", CreatedAt: now, UpdatedAt: now})

			n, err := s.DeleteSessionsBefore(now.Add(-24 * time.Hour))
			if err != nil || n != 1 {
				t.Fatalf("deleted %d, err %v", n, err)
			}
			if err := s.DeleteSession("gone"); err != nil {
				t.Fatal(err)
			}
			if err := s.DeleteSession("gone"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("err = %v", err)
			}
			list, err := s.ListSessions()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 || list[0].ID != "fresh" {
				t.Fatalf("list = %+v", list)
			}
		})
	}
}

func TestDiskStorageSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first := NewDiskStorage(dir, 1)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	_ = first.SaveSession(&model.Session{ID: "s1", Title: "kept", CreatedAt: now, UpdatedAt: now})
	_ = first.UpsertMessage(record("m1", "s1", "c1", "success"))
	_ = first.SaveContext("s1", []session.ContextEntry{session.SystemEntry("sys")})
	if err := first.Backup(); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second := NewDiskStorage(dir, 1)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetSession("s1")
	if err != nil || got.Title != "kept" {
		t.Fatalf("session = %+v, %v", got, err)
	}
	msgs, _ := second.GetMessages("s1")
	ctx, _ := second.LoadContext("s1")
	if len(msgs) != 1 || len(ctx) != 1 {
		t.Fatalf("messages = %d, context = %d", len(msgs), len(ctx))
	}
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	for typ, want := range map[string]string{"memory": "*storage.MemoryStorage", "disk": "*storage.DiskStorage", "sqlite": "*storage.SQLiteStorage"} {
		s, err := New(config.StorageConfig{Type: typ, DataDir: dir})
		if err != nil {
			t.Fatal(err)
		}
		if got := typeName(s); got != want {
			t.Fatalf("%s: got %s", typ, got)
		}
	}
	if _, err := New(config.StorageConfig{Type: "redis"}); !errors.Is(err, ErrStorageInit) {
		t.Fatalf("err = %v", err)
	}
}

func typeName(s Storage) string {
	switch s.(type) {
	case *MemoryStorage:
		return "*storage.MemoryStorage"
	case *DiskStorage:
		return "*storage.DiskStorage"
	case *SQLiteStorage:
		return "*storage.SQLiteStorage"
	}
	return "unknown"
}
