package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

// Execute validates args against the agent's spec and runs it on env's
// output message. Parameters the session is bound to (Env.Defaults) are
// filled in when args leave them out. It never finalizes the message: a turn may run several
// agents on the same message.
func Execute(ctx context.Context, env *Env, a Agent, args map[string]any) (res Result) {
	spec := a.Spec()
	out := env.Output()
	if err := out.AddAgent(spec.Name); err != nil {
		return Failure(fmt.Errorf("agent %s: %w", spec.Name, err))
	}

	params, err := spec.Validate(env.withDefaults(spec, args))
	if err != nil {
		return Failure(fmt.Errorf("agent %s: %w", spec.Name, err))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("agent %s panicked: %v\n%s", spec.Name, r, debug.Stack())
			res = Failure(fmt.Errorf("agent %s panicked: %v", spec.Name, r))
		}
	}()

	log := logger.WithFields(map[string]interface{}{
		"agent":      spec.Name,
		"session_id": env.Session.ID,
		"conv_id":    env.Session.ConvID,
	})
	log.Info("Agent started")
	res = a.Run(ctx, params)
	if res.OK() {
		log.Info("Agent finished")
	} else {
		log.Warnf("Agent failed: %s", res.Message)
	}
	return res
}

// Invoke runs a single agent as a whole turn: Execute, then Finalize.
func Invoke(ctx context.Context, env *Env, a Agent, args map[string]any) Result {
	res := Execute(ctx, env, a, args)
	if err := Finalize(env.Output(), a.Spec().Name, res); err != nil {
		logger.Errorf("finalize message %s: %v", env.Output().ID(), err)
	}
	return res
}

// Finalize moves msg to its terminal status from res and publishes it.
// Content still in progress follows the result; a failure that left no
// content gets an error text variant carrying the message.
func Finalize(msg *session.Message, agentName string, res Result) error {
	content := msg.Content()
	for _, c := range content {
		b := c.Base()
		if b.Status() != session.StatusProgress {
			continue
		}
		if res.OK() {
			_ = b.Succeed("")
		} else {
			_ = b.Fail(res.Message)
		}
	}

	status := session.StatusSuccess
	if !res.OK() {
		status = session.StatusError
	}
	if len(content) == 0 {
		tc := session.NewTextContent(agentName, "")
		tc.Text = res.Message
		if res.OK() {
			_ = tc.Succeed("")
		} else {
			_ = tc.Fail(res.Message)
		}
		if err := msg.AddContent(tc); err != nil {
			return err
		}
	}
	return msg.UpdateStatus(status)
}
