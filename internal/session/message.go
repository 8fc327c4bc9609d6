package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-backend/internal/model"
	"studio-backend/pkg/logger"
)

// MessageStore persists message snapshots, upserting by message id.
type MessageStore interface {
	UpsertMessage(rec *model.MessageRecord) error
}

// Broadcaster delivers message snapshots to live observers of a conversation.
type Broadcaster interface {
	Broadcast(convID string, rec *model.MessageRecord) error
}

var idState struct {
	sync.Mutex
	last int64
}

// NewMessageID returns a time-ordered id: microseconds since epoch, strictly
// increasing within the process, plus a random suffix.
func NewMessageID() string {
	idState.Lock()
	now := time.Now().UnixMicro()
	if now <= idState.last {
		now = idState.last + 1
	}
	idState.last = now
	idState.Unlock()
	return strconv.FormatInt(now, 10) + "-" + uuid.NewString()[:8]
}

// Message is a progress message: an ordered list of content variants, an
// append-only action log and an overall status. An output message is mutated
// and re-published many times during a turn; once its status is terminal it
// no longer accepts mutations.
type Message struct {
	mu sync.Mutex

	id        string
	sessionID string
	convID    string
	msgType   MsgType
	status    MsgStatus
	actions   []string
	agents    []string
	content   []Content
	createdAt time.Time
	updatedAt time.Time

	store       MessageStore
	broadcaster Broadcaster
}

func newMessage(store MessageStore, b Broadcaster, sessionID, convID string, t MsgType) *Message {
	now := time.Now()
	return &Message{
		id:          NewMessageID(),
		sessionID:   sessionID,
		convID:      convID,
		msgType:     t,
		status:      StatusProgress,
		createdAt:   now,
		updatedAt:   now,
		store:       store,
		broadcaster: b,
	}
}

// NewOutputMessage creates the live output message of a turn.
func NewOutputMessage(store MessageStore, b Broadcaster, sessionID, convID string) *Message {
	return newMessage(store, b, sessionID, convID, MsgTypeOutput)
}

// NewInputMessage creates a finished, immutable input message.
func NewInputMessage(store MessageStore, b Broadcaster, sessionID, convID string, agents []string, content ...Content) *Message {
	m := newMessage(store, b, sessionID, convID, MsgTypeInput)
	m.status = StatusSuccess
	m.content = append(m.content, content...)
	for _, a := range agents {
		m.addAgentLocked(a)
	}
	return m
}

func (m *Message) ID() string        { return m.id }
func (m *Message) SessionID() string { return m.sessionID }
func (m *Message) ConvID() string    { return m.convID }
func (m *Message) Type() MsgType     { return m.msgType }

func (m *Message) Status() MsgStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Message) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actions...)
}

func (m *Message) AgentNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.agents...)
}

func (m *Message) Content() []Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Content(nil), m.content...)
}

func (m *Message) mutable() error {
	if m.msgType == MsgTypeInput {
		return ErrImmutableMessage
	}
	if m.status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrMessageFinalized, m.id, m.status)
	}
	return nil
}

func (m *Message) AddAction(action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	m.actions = append(m.actions, action)
	m.updatedAt = time.Now()
	return nil
}

// AddAgent records name in the message's agent set.
func (m *Message) AddAgent(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	m.addAgentLocked(name)
	return nil
}

func (m *Message) addAgentLocked(name string) {
	for _, a := range m.agents {
		if a == name {
			return
		}
	}
	m.agents = append(m.agents, name)
	m.updatedAt = time.Now()
}

func (m *Message) AddContent(c Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	m.content = append(m.content, c)
	m.updatedAt = time.Now()
	return nil
}

// Touch marks the message as changed after a content variant it already
// holds was modified in place.
func (m *Message) Touch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	m.updatedAt = time.Now()
	return nil
}

// SetStatus changes the status without publishing.
func (m *Message) SetStatus(s MsgStatus) error {
	if !s.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	if m.status != s {
		m.status = s
		m.updatedAt = time.Now()
	}
	return nil
}

// Snapshot encodes the current state of the message.
func (m *Message) Snapshot() (*model.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content := make([]json.RawMessage, 0, len(m.content))
	for i, c := range m.content {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode content %d of %s: %w", i, m.id, err)
		}
		content = append(content, raw)
	}
	return &model.MessageRecord{
		ID:         m.id,
		SessionID:  m.sessionID,
		ConvID:     m.convID,
		MsgType:    string(m.msgType),
		Status:     string(m.status),
		Actions:    append([]string{}, m.actions...),
		AgentNames: append([]string{}, m.agents...),
		Content:    content,
		CreatedAt:  m.createdAt,
		UpdatedAt:  m.updatedAt,
	}, nil
}

// Publish persists the current snapshot, then broadcasts it. The broadcast
// is attempted even when persisting fails.
func (m *Message) Publish() error {
	rec, err := m.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	var errs []error
	if m.store != nil {
		if err := m.store.UpsertMessage(rec); err != nil {
			errs = append(errs, fmt.Errorf("persist: %w", err))
		}
	}
	if m.broadcaster != nil {
		if err := m.broadcaster.Broadcast(m.convID, rec); err != nil {
			errs = append(errs, fmt.Errorf("broadcast: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPublish, errors.Join(errs...))
	}
	return nil
}

// PushUpdate publishes an in-progress snapshot. Failures are logged and
// never returned: a lost progress tick must not abort the running work.
func (m *Message) PushUpdate() {
	if err := m.Publish(); err != nil {
		logger.Warnf("push update of message %s (conv %s) failed: %v", m.id, m.convID, err)
	}
}

// UpdateStatus sets the status and publishes the result.
func (m *Message) UpdateStatus(s MsgStatus) error {
	if err := m.SetStatus(s); err != nil {
		return err
	}
	return m.Publish()
}

// Progress appends an action and pushes the update.
func (m *Message) Progress(action string) {
	if err := m.AddAction(action); err != nil {
		logger.Warnf("drop action %q on message %s: %v", action, m.id, err)
		return
	}
	m.PushUpdate()
}
