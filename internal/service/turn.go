package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"studio-backend/internal/agent"
	"studio-backend/internal/dispatch"
	"studio-backend/internal/model"
	"studio-backend/internal/session"
	"studio-backend/internal/storage"
	"studio-backend/pkg/logger"
)

const (
	defaultSystemPrompt = "You are a creative studio assistant. Use the available agents to analyze videos, " +
		"write scripts, generate images, audio and movies and publish them. Call an agent only when the user's " +
		"request needs it, pass every required parameter, and answer directly when no agent is needed."
	titleRunes = 30
)

// Turn is one chat turn: the user's input is already published, the output
// message is created but not yet run.
type Turn struct {
	SessionID   string
	ConvID      string
	InputMsgID  string
	OutputMsgID string
	Input       *model.MessageRecord

	sess   *session.Session
	agents []string
	done   chan struct{}
	result agent.Result
	final  *model.MessageRecord
}

func (t *Turn) Response() model.TurnResponse {
	return model.TurnResponse{
		SessionID:   t.SessionID,
		ConvID:      t.ConvID,
		InputMsgID:  t.InputMsgID,
		OutputMsgID: t.OutputMsgID,
	}
}

// Done is closed when the turn's output message is final.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Result is valid after Done is closed.
func (t *Turn) Result() agent.Result { return t.result }

// Final is the terminal snapshot of the output message, valid after Done is
// closed.
func (t *Turn) Final() *model.MessageRecord { return t.final }

// StartTurn opens or creates the session, records the user input in the
// context and publishes the input message. Unknown agent names fail before
// anything is stored.
func (s *ChatService) StartTurn(req *model.ChatRequest) (*Turn, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.Parts) == 0 {
		return nil, ErrEmptyMessage
	}
	agents, err := s.registry.Resolve(req.Agents)
	if err != nil {
		return nil, err
	}

	sess := session.New(s.store, s.hub, session.Options{
		SessionID:    req.SessionID,
		ConvID:       req.ConvID,
		CollectionID: req.CollectionID,
		VideoID:      req.VideoID,
		Title:        truncateTitle(req.Message),
	})
	if err := s.openSession(sess, req.SessionID != ""); err != nil {
		return nil, err
	}

	if len(sess.Context()) == 0 {
		prompt := s.cfg.Agent.SystemPrompt
		if prompt == "" {
			prompt = defaultSystemPrompt
		}
		if err := sess.AppendContext(session.SystemEntry(prompt)); err != nil {
			return nil, err
		}
	}
	if err := sess.AppendContext(session.UserEntry(userContent(req))); err != nil {
		return nil, err
	}

	in, err := sess.PublishInput(req.Message, req.Parts, req.Agents)
	if err != nil {
		// A failed broadcast does not fail the turn.
		logger.Warnf("Publish input of session %s: %v", sess.ID, err)
	}
	rec, err := in.Snapshot()
	if err != nil {
		return nil, err
	}

	return &Turn{
		SessionID:   sess.ID,
		ConvID:      sess.ConvID,
		InputMsgID:  in.ID(),
		OutputMsgID: sess.Output.ID(),
		Input:       rec,
		sess:        sess,
		agents:      agents,
		done:        make(chan struct{}),
	}, nil
}

// openSession loads an existing session's context, or creates the session.
func (s *ChatService) openSession(sess *session.Session, mayExist bool) error {
	if mayExist {
		existing, err := s.store.GetSession(sess.ID)
		switch {
		case err == nil:
			existing.UpdatedAt = time.Now()
			if sess.CollectionID != "" {
				existing.CollectionID = sess.CollectionID
			}
			if sess.VideoID != "" {
				existing.VideoID = sess.VideoID
			}
			if err := s.store.SaveSession(existing); err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
			return sess.LoadContext()
		case !errors.Is(err, storage.ErrSessionNotFound):
			return fmt.Errorf("failed to get session: %w", err)
		}
	}
	return sess.Create()
}

func userContent(req *model.ChatRequest) session.MessageContent {
	if len(req.Parts) == 0 {
		return session.TextOf(req.Message)
	}
	parts := make([]model.MessagePart, 0, len(req.Parts)+1)
	if req.Message != "" {
		parts = append(parts, model.MessagePart{Type: "text", Text: req.Message})
	}
	parts = append(parts, req.Parts...)
	return session.PartsOf(parts...)
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= titleRunes {
		return s
	}
	return string(r[:titleRunes]) + "..."
}

// Chat starts a turn and runs it in the background.
func (s *ChatService) Chat(req *model.ChatRequest) (*Turn, error) {
	t, err := s.StartTurn(req)
	if err != nil {
		return nil, err
	}
	s.RunInBackground(t)
	return t, nil
}

// RunInBackground runs t detached from the request that started it.
// Shutdown waits for it.
func (s *ChatService) RunInBackground(t *Turn) {
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Turn of session %s panicked: %v", t.SessionID, r)
			}
		}()
		s.RunTurn(context.Background(), t)
	}()
}

// RunTurn lets the dispatcher pick agents until it answers without calls
// or max_steps is reached, then finalizes the output message and persists
// the context.
func (s *ChatService) RunTurn(ctx context.Context, t *Turn) agent.Result {
	defer close(t.done)
	if s.cfg.Agent.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Agent.TurnTimeout)
		defer cancel()
	}

	log := logger.WithFields(map[string]interface{}{
		"session_id": t.SessionID,
		"conv_id":    t.ConvID,
	})
	env := agent.NewEnv(t.sess, s.backends)
	defer env.Close()

	out := t.sess.Output
	out.PushUpdate()

	var res agent.Result
	var last string
	set, err := s.registry.Build(env, t.agents)
	if err != nil {
		res = agent.Failure(err)
	} else {
		res, last = s.loop(ctx, env, set, log)
	}

	if err := agent.Finalize(out, last, res); err != nil {
		log.Errorf("Finalize output message %s: %v", out.ID(), err)
	}
	if err := t.sess.SaveContext(); err != nil {
		log.Errorf("Save context: %v", err)
	}
	if t.final, err = out.Snapshot(); err != nil {
		log.Errorf("Snapshot output message %s: %v", out.ID(), err)
	}
	log.Infof("Turn finished with status %s", res.Status)
	t.result = res
	return res
}

func (s *ChatService) loop(ctx context.Context, env *agent.Env, set *agent.Set, log *logrus.Entry) (agent.Result, string) {
	if s.dispatcher == nil {
		return agent.Failure(dispatch.ErrNoModel), ""
	}
	sess := env.Session
	out := env.Output()
	tools := set.ToolInfos()

	var (
		res  agent.Result
		last string
		ran  bool
	)
	for step := 0; step < s.cfg.Agent.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return agent.Failure(fmt.Errorf("turn aborted: %w", err)), last
		}
		if step == 0 {
			out.Progress("Planning...")
		}

		decision, err := s.dispatcher.Decide(ctx, sess.WireContext(s.cfg.Agent.MaxHistoryMessages), tools)
		if err != nil {
			return agent.Failure(err), last
		}
		entry, err := session.AssistantEntry(decision.Reply, decision.ToContextCalls())
		if err != nil {
			return agent.Failure(err), last
		}
		if err := sess.AppendContext(entry); err != nil {
			return agent.Failure(err), last
		}

		if decision.Final() {
			if decision.Reply != "" {
				tc := session.NewTextContent("", "")
				tc.Text = decision.Reply
				_ = tc.Succeed("")
				if err := out.AddContent(tc); err != nil {
					log.Warnf("Add reply: %v", err)
				}
			}
			if ran && !res.OK() {
				return res, last
			}
			return agent.Success(decision.Reply, nil), last
		}

		for _, call := range decision.Calls {
			res = s.execute(ctx, env, set, call)
			last = call.AgentName
			ran = true
			tool, err := session.ToolEntry(call.ID, toolResultText(res))
			if err != nil {
				return agent.Failure(err), last
			}
			if err := sess.AppendContext(tool); err != nil {
				return agent.Failure(err), last
			}
		}
	}
	log.Warnf("Turn reached max steps (%d)", s.cfg.Agent.MaxSteps)
	return res, last
}

func (s *ChatService) execute(ctx context.Context, env *agent.Env, set *agent.Set, call dispatch.Call) agent.Result {
	a, err := set.Get(call.AgentName)
	if err != nil {
		return agent.Failure(err)
	}
	args, err := agent.ParseArguments(call.Arguments)
	if err != nil {
		return agent.Failure(fmt.Errorf("agent %s: %w", call.AgentName, err))
	}
	return agent.Execute(ctx, env, a, args)
}

// toolResultText is what the dispatcher sees of an agent's result.
func toolResultText(res agent.Result) string {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"message":%q}`, res.Status, res.Message)
	}
	return string(raw)
}
