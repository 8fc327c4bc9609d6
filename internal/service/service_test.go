package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"studio-backend/internal/agent"
	"studio-backend/internal/config"
	"studio-backend/internal/dispatch"
	"studio-backend/internal/model"
	"studio-backend/internal/session"
	"studio-backend/internal/storage"
	"studio-backend/internal/stream"
)

type scriptedDispatcher struct {
	mu        sync.Mutex
	decisions []*dispatch.Decision
	histories [][]session.WireMessage
	tools     int
}

func (d *scriptedDispatcher) Decide(ctx context.Context, history []session.WireMessage, tools []*schema.ToolInfo) (*dispatch.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.histories = append(d.histories, history)
	d.tools = len(tools)
	if len(d.decisions) == 0 {
		return &dispatch.Decision{Reply: "nothing left"}, nil
	}
	next := d.decisions[0]
	if len(d.decisions) > 1 {
		d.decisions = d.decisions[1:]
	}
	return next, nil
}

func call(id, name, args string) *dispatch.Decision {
	return &dispatch.Decision{Calls: []dispatch.Call{{ID: id, AgentName: name, Arguments: args}}}
}

type funcAgent struct {
	spec agent.Spec
	run  func(ctx context.Context, p agent.Params) agent.Result
}

func (a *funcAgent) Spec() agent.Spec { return a.spec }
func (a *funcAgent) Run(ctx context.Context, p agent.Params) agent.Result {
	return a.run(ctx, p)
}

func testRegistry() *agent.Registry {
	r := agent.NewRegistry()
	echoSpec := agent.Spec{Name: "echo", Description: "echo text", Params: map[string]*agent.Param{
		"text": {Type: schema.String, Required: true},
	}}
	r.MustRegister(echoSpec, func(env *agent.Env) agent.Agent {
		return &funcAgent{spec: echoSpec, run: func(ctx context.Context, p agent.Params) agent.Result {
			tc := session.NewTextContent("echo", "")
			tc.Text = "echo: " + p.String("text")
			_ = tc.Succeed("")
			_ = env.Output().AddContent(tc)
			return agent.Success("echoed", map[string]any{"text": p.String("text")})
		}}
	})
	brokenSpec := agent.Spec{Name: "broken", Description: "always fails"}
	r.MustRegister(brokenSpec, func(env *agent.Env) agent.Agent {
		return &funcAgent{spec: brokenSpec, run: func(ctx context.Context, p agent.Params) agent.Result {
			return agent.Failure(errors.New("backend down"))
		}}
	})
	return r
}

func newTestService(t *testing.T, d dispatch.Dispatcher) (*ChatService, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	cfg := &config.Config{
		Model:   config.ModelConfig{Provider: "openai"},
		Storage: config.StorageConfig{Type: "memory"},
		Agent:   config.AgentConfig{MaxSteps: 5, MaxHistoryMessages: 50},
		Session: config.SessionConfig{TTL: time.Hour},
	}
	svc := NewChatService(cfg, Deps{
		Store:      store,
		Hub:        stream.NewHub(16),
		Registry:   testRegistry(),
		Dispatcher: d,
	})
	return svc, store
}

func outputRecord(t *testing.T, store storage.Storage, turn *Turn) *model.MessageRecord {
	t.Helper()
	recs, err := store.GetConversation(turn.SessionID, turn.ConvID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		if r.ID == turn.OutputMsgID {
			return r
		}
	}
	t.Fatalf("output message %s not stored", turn.OutputMsgID)
	return nil
}

func contentText(rec *model.MessageRecord) string {
	var b strings.Builder
	for _, c := range rec.Content {
		b.Write(c)
	}
	return b.String()
}

func TestRunTurnExecutesCallsThenReplies(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{
		call("c1", "echo", `{"text":"hi"}`),
		{Reply: "done"},
	}}
	svc, store := newTestService(t, d)

	turn, err := svc.StartTurn(&model.ChatRequest{Message: "say hi"})
	if err != nil {
		t.Fatal(err)
	}
	res := svc.RunTurn(context.Background(), turn)
	if !res.OK() || res.Message != "done" {
		t.Fatalf("result = %+v", res)
	}

	rec := outputRecord(t, store, turn)
	if rec.Status != string(session.StatusSuccess) {
		t.Fatalf("status = %s", rec.Status)
	}
	text := contentText(rec)
	if !strings.Contains(text, "echo: hi") || !strings.Contains(text, `"done"`) {
		t.Fatalf("content = %s", text)
	}

	entries, err := store.LoadContext(turn.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	roles := make([]session.Role, 0, len(entries))
	for _, e := range entries {
		roles = append(roles, e.Role)
	}
	want := []session.Role{session.RoleSystem, session.RoleUser, session.RoleAssistant, session.RoleTool, session.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v", roles)
		}
	}
	if entries[3].ToolCallID != "c1" || !strings.Contains(entries[3].Content.Text, `"status":"success"`) {
		t.Fatalf("tool entry = %+v", entries[3])
	}
	if len(d.histories) != 2 || len(d.histories[1]) != 4 {
		t.Fatalf("dispatcher saw %d histories", len(d.histories))
	}
	if d.tools != 2 {
		t.Fatalf("tools offered = %d", d.tools)
	}
}

func TestRunTurnAgentFailureMarksMessageError(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{
		call("c1", "broken", ``),
		{Reply: "The backend is down."},
	}}
	svc, store := newTestService(t, d)

	turn, err := svc.StartTurn(&model.ChatRequest{Message: "break it"})
	if err != nil {
		t.Fatal(err)
	}
	res := svc.RunTurn(context.Background(), turn)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if rec := outputRecord(t, store, turn); rec.Status != string(session.StatusError) {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestRunTurnUnknownCallIsReportedToDispatcher(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{
		call("c1", "nope", `{}`),
		{Reply: "ok"},
	}}
	svc, store := newTestService(t, d)

	turn, err := svc.StartTurn(&model.ChatRequest{Message: "x"})
	if err != nil {
		t.Fatal(err)
	}
	svc.RunTurn(context.Background(), turn)

	entries, _ := store.LoadContext(turn.SessionID)
	tool := entries[3]
	if tool.Role != session.RoleTool || !strings.Contains(tool.Content.Text, "unknown agent") {
		t.Fatalf("tool entry = %+v", tool)
	}
}

func TestRunTurnStopsAtMaxSteps(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{call("c", "echo", `{"text":"again"}`)}}
	svc, _ := newTestService(t, d)
	svc.cfg.Agent.MaxSteps = 2

	turn, err := svc.StartTurn(&model.ChatRequest{Message: "loop"})
	if err != nil {
		t.Fatal(err)
	}
	res := svc.RunTurn(context.Background(), turn)
	if len(d.histories) != 2 {
		t.Fatalf("decide called %d times", len(d.histories))
	}
	if !res.OK() {
		t.Fatalf("last agent result should stand: %+v", res)
	}
}

func TestStartTurnRejectsBadInput(t *testing.T) {
	svc, store := newTestService(t, &scriptedDispatcher{})

	if _, err := svc.StartTurn(&model.ChatRequest{Message: "  "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.StartTurn(&model.ChatRequest{Message: "hi", Agents: []string{"ghost"}}); !errors.Is(err, agent.ErrUnknownAgent) {
		t.Fatalf("err = %v", err)
	}
	if sessions, _ := store.ListSessions(); len(sessions) != 0 {
		t.Fatalf("sessions stored: %d", len(sessions))
	}
}

func TestSecondTurnReusesContext(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{{Reply: "hello"}}}
	svc, store := newTestService(t, d)

	first, err := svc.StartTurn(&model.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	svc.RunTurn(context.Background(), first)

	second, err := svc.StartTurn(&model.ChatRequest{Message: "again", SessionID: first.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	svc.RunTurn(context.Background(), second)

	if second.SessionID != first.SessionID || second.ConvID == first.ConvID {
		t.Fatalf("ids: %+v %+v", first.Response(), second.Response())
	}
	entries, _ := store.LoadContext(first.SessionID)
	systems := 0
	for _, e := range entries {
		if e.Role == session.RoleSystem {
			systems++
		}
	}
	if len(entries) != 5 || systems != 1 {
		t.Fatalf("context has %d entries, %d system", len(entries), systems)
	}

	detail, err := svc.GetSession(first.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.MessageCount != 4 || detail.Title != "hi" {
		t.Fatalf("detail = %+v", detail.SessionResponse)
	}
}

func TestChatRunsInBackground(t *testing.T) {
	d := &scriptedDispatcher{decisions: []*dispatch.Decision{{Reply: "hi there"}}}
	svc, store := newTestService(t, d)

	turn, err := svc.Chat(&model.ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := outputRecord(t, store, turn); rec.Status != string(session.StatusSuccess) {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestSessionQueries(t *testing.T) {
	svc, store := newTestService(t, &scriptedDispatcher{})
	now := time.Now()
	_ = store.SaveSession(&model.Session{ID: "old", Title: "old", CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)})
	_ = store.SaveSession(&model.Session{ID: "new", Title: "new", CreatedAt: now, UpdatedAt: now})

	list, err := svc.GetAllSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].SessionID != "new" {
		t.Fatalf("list = %+v", list)
	}

	if n := svc.expireSessions(now); n != 1 {
		t.Fatalf("expired %d sessions", n)
	}
	if _, err := svc.GetSession("old"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.DeleteSession("new"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteSession("new"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestConfigCheck(t *testing.T) {
	svc, _ := newTestService(t, &scriptedDispatcher{})
	svc.mcpServers = []string{"b", "a"}
	got := svc.ConfigCheck()
	if got.ModelProvider != "openai" || got.Storage != "memory" {
		t.Fatalf("check = %+v", got)
	}
	if got.MCPServers[0] != "a" || got.Backends["llm"] {
		t.Fatalf("check = %+v", got)
	}
	if agents := svc.Agents(); len(agents) != 2 || agents[0].Name != "echo" {
		t.Fatalf("agents = %+v", agents)
	}
}
