package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/config"
	"studio-backend/internal/dispatch"
	"studio-backend/internal/model"
	"studio-backend/internal/storage"
	"studio-backend/internal/stream"
	"studio-backend/pkg/logger"
)

var ErrEmptyMessage = errors.New("message is empty")

// Deps are the collaborators of the chat service.
type Deps struct {
	Store      storage.Storage
	Hub        *stream.Hub
	Registry   *agent.Registry
	Backends   *backend.Set
	Dispatcher dispatch.Dispatcher
	MCPServers []string
}

type ChatService struct {
	cfg        *config.Config
	store      storage.Storage
	hub        *stream.Hub
	registry   *agent.Registry
	backends   *backend.Set
	dispatcher dispatch.Dispatcher
	mcpServers []string

	turns  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewChatService(cfg *config.Config, deps Deps) *ChatService {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Backends == nil {
		deps.Backends = &backend.Set{}
	}
	return &ChatService{
		cfg:        cfg,
		store:      deps.Store,
		hub:        deps.Hub,
		registry:   deps.Registry,
		backends:   deps.Backends,
		dispatcher: deps.Dispatcher,
		mcpServers: deps.MCPServers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the session cleanup and backup loops.
func (s *ChatService) Start() {
	if s.cfg.Session.TTL > 0 {
		go s.cleanupOldSessions()
	}
	if s.cfg.Storage.BackupCron != "" {
		go s.backupLoop(s.cfg.Storage.BackupCron)
	}
}

// Shutdown stops the background loops and waits for running turns until ctx
// is done.
func (s *ChatService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running turns: %w", ctx.Err())
	}
}

func (s *ChatService) Hub() *stream.Hub { return s.hub }

func (s *ChatService) Agents() []model.AgentInfo {
	specs := s.registry.Specs()
	out := make([]model.AgentInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, model.AgentInfo{Name: spec.Name, Description: spec.Description})
	}
	return out
}

func (s *ChatService) ConfigCheck() model.ConfigCheckResponse {
	servers := append([]string{}, s.mcpServers...)
	sort.Strings(servers)
	return model.ConfigCheckResponse{
		ModelProvider: s.cfg.Model.Provider,
		Storage:       s.cfg.Storage.Type,
		Backends:      s.backends.Available(),
		MCPServers:    servers,
	}
}

func (s *ChatService) GetSession(sessionID string) (*model.SessionDetailResponse, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	messages, err := s.store.GetMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return &model.SessionDetailResponse{
		SessionResponse: toSessionResponse(sess, len(messages)),
		Messages:        messages,
	}, nil
}

func (s *ChatService) GetAllSessions() ([]model.SessionResponse, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]model.SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count := 0
		if msgs, err := s.store.GetMessages(sess.ID); err == nil {
			count = len(msgs)
		}
		out = append(out, toSessionResponse(sess, count))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.store.DeleteSession(sessionID); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func toSessionResponse(sess *model.Session, count int) model.SessionResponse {
	return model.SessionResponse{
		SessionID:    sess.ID,
		Title:        sess.Title,
		CollectionID: sess.CollectionID,
		VideoID:      sess.VideoID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: count,
	}
}

func (s *ChatService) cleanupOldSessions() {
	interval := s.cfg.Session.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.expireSessions(time.Now())
		}
	}
}

// expireSessions deletes sessions not updated within the TTL before now.
func (s *ChatService) expireSessions(now time.Time) int {
	n, err := s.store.DeleteSessionsBefore(now.Add(-s.cfg.Session.TTL))
	if err != nil {
		logger.Errorf("Failed to cleanup sessions: %v", err)
		return 0
	}
	if n > 0 {
		logger.Infof("Cleaned up %d expired sessions", n)
	}
	return n
}

func (s *ChatService) backupLoop(expr string) {
	if !gronx.New().IsValid(expr) {
		logger.Warnf("Invalid backup cron expression %q, backups disabled", expr)
		return
	}
	for {
		next, err := gronx.NextTick(expr, false)
		if err != nil {
			logger.Errorf("Failed to compute next backup time: %v", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.store.Backup(); err != nil {
			logger.Errorf("Storage backup failed: %v", err)
			continue
		}
		logger.Infof("Storage backup completed")
	}
}
