package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"studio-backend/internal/model"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

// DiskStorage keeps one JSON file per session for the session row, its
// message records and its reasoning context, plus a sessions.json index.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*diskSession
	cacheSize int
}

type diskSession struct {
	info     model.Session
	messages []*model.MessageRecord
}

type SessionIndex struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CollectionID string    `json:"collection_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*diskSession),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadSessions(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) path(kind, sessionID string) string {
	return filepath.Join(d.dataDir, kind, sessionID+".json")
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "sessions"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "context"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) loadSessions() error {
	indexPath := filepath.Join(d.dataDir, "sessions.json")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return writeJSONAtomic(indexPath, []*SessionIndex{})
	}

	indexes, err := d.readIndex()
	if err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		s, err := d.loadSessionFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load session %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = s
	}

	return nil
}

func (d *DiskStorage) readIndex() ([]*SessionIndex, error) {
	data, err := os.ReadFile(filepath.Join(d.dataDir, "sessions.json"))
	if err != nil {
		return nil, err
	}
	var indexes []*SessionIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return indexes, nil
}

func (d *DiskStorage) loadSessionFromFile(sessionID string) (*diskSession, error) {
	data, err := os.ReadFile(d.path("sessions", sessionID))
	if err != nil {
		return nil, err
	}

	s := &diskSession{}
	if err := json.Unmarshal(data, &s.info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	messages, err := d.loadMessagesFromFile(sessionID)
	if err != nil {
		logger.Errorf("Failed to load messages for session %s: %v", sessionID, err)
		messages = []*model.MessageRecord{}
	}

	s.messages = messages
	return s, nil
}

func (d *DiskStorage) loadMessagesFromFile(sessionID string) ([]*model.MessageRecord, error) {
	data, err := os.ReadFile(d.path("messages", sessionID))
	if os.IsNotExist(err) {
		return []*model.MessageRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []*model.MessageRecord
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// writeJSONAtomic writes a temp file and renames it over path, so readers
// never see a partial file.
func writeJSONAtomic(path string, v interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// cached returns the session from cache or disk. Caller holds d.mu.
func (d *DiskStorage) cached(sessionID string) (*diskSession, error) {
	if s, exists := d.cache[sessionID]; exists {
		return s, nil
	}
	s, err := d.loadSessionFromFile(sessionID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.cache[sessionID] = s
	d.evictCache()
	return s, nil
}

func (d *DiskStorage) SaveSession(info *model.Session) error {
	if info == nil || info.ID == "" {
		return ErrInvalidData
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.cached(info.ID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		s = &diskSession{info: *info, messages: []*model.MessageRecord{}}
		d.cache[info.ID] = s
		d.evictCache()
	case err != nil:
		return err
	default:
		createdAt := s.info.CreatedAt
		s.info = *info
		s.info.CreatedAt = createdAt
	}

	if err := writeJSONAtomic(d.path("sessions", info.ID), s.info); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.updateSessionIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStorage) GetSession(sessionID string) (*model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.cached(sessionID)
	if err != nil {
		return nil, err
	}
	info := s.info
	return &info, nil
}

func (d *DiskStorage) DeleteSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.deleteSessionLocked(sessionID); err != nil {
		return err
	}
	return d.updateSessionIndex()
}

func (d *DiskStorage) deleteSessionLocked(sessionID string) error {
	sessionPath := d.path("sessions", sessionID)

	if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
		return ErrSessionNotFound
	}

	for _, p := range []string{sessionPath, d.path("messages", sessionID), d.path("context", sessionID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	delete(d.cache, sessionID)
	return nil
}

func (d *DiskStorage) DeleteSessionsBefore(t time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Message writes do not refresh the index; rebuild it for current updated_at values.
	if err := d.updateSessionIndex(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	indexes, err := d.readIndex()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	n := 0
	for _, index := range indexes {
		if !index.UpdatedAt.Before(t) {
			continue
		}
		if err := d.deleteSessionLocked(index.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return n, err
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, d.updateSessionIndex()
}

func (d *DiskStorage) ListSessions() ([]*model.Session, error) {
	d.mu.RLock()
	indexes, err := d.readIndex()
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	sessions := make([]*model.Session, 0, len(indexes))
	for _, index := range indexes {
		sessions = append(sessions, &model.Session{
			ID:           index.ID,
			Title:        index.Title,
			CollectionID: index.CollectionID,
			CreatedAt:    index.CreatedAt,
			UpdatedAt:    index.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

func (d *DiskStorage) UpsertMessage(rec *model.MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidData
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.cached(rec.SessionID)
	if err != nil {
		return err
	}

	s.messages = upsertRecord(s.messages, rec)
	s.info.UpdatedAt = time.Now()

	if err := writeJSONAtomic(d.path("messages", rec.SessionID), s.messages); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := writeJSONAtomic(d.path("sessions", rec.SessionID), s.info); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStorage) GetMessages(sessionID string) ([]*model.MessageRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.cached(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]*model.MessageRecord(nil), s.messages...), nil
}

func (d *DiskStorage) GetConversation(sessionID, convID string) ([]*model.MessageRecord, error) {
	messages, err := d.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	return filterConversation(messages, convID), nil
}

func (d *DiskStorage) SaveContext(sessionID string, entries []session.ContextEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.cached(sessionID); err != nil {
		return err
	}
	if entries == nil {
		entries = []session.ContextEntry{}
	}
	if err := writeJSONAtomic(d.path("context", sessionID), entries); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) LoadContext(sessionID string) ([]session.ContextEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.cached(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path("context", sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	var entries []session.ContextEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return entries, nil
}

func (d *DiskStorage) updateSessionIndex() error {
	sessionsDir := filepath.Join(d.dataDir, "sessions")

	files, err := os.ReadDir(sessionsDir)
	if err != nil {
		return err
	}

	indexes := []*SessionIndex{}
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		sessionID := strings.TrimSuffix(file.Name(), ".json")
		info := model.Session{}
		if s, ok := d.cache[sessionID]; ok {
			info = s.info
		} else {
			data, err := os.ReadFile(filepath.Join(sessionsDir, file.Name()))
			if err == nil {
				err = json.Unmarshal(data, &info)
			}
			if err != nil {
				logger.Errorf("Failed to load session %s for index update: %v", sessionID, err)
				continue
			}
		}

		indexes = append(indexes, &SessionIndex{
			ID:           info.ID,
			Title:        info.Title,
			CollectionID: info.CollectionID,
			CreatedAt:    info.CreatedAt,
			UpdatedAt:    info.UpdatedAt,
		})
	}

	return writeJSONAtomic(filepath.Join(d.dataDir, "sessions.json"), indexes)
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	var entries []cacheEntry
	for id, s := range d.cache {
		entries = append(entries, cacheEntry{
			id:        id,
			updatedAt: s.info.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*diskSession)
	return nil
}

func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	for _, dir := range []string{"sessions", "messages", "context"} {
		srcDir := filepath.Join(d.dataDir, dir)
		dstDir := filepath.Join(backupDir, dir)

		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}

		if err := copyDir(srcDir, dstDir); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	indexSrc := filepath.Join(d.dataDir, "sessions.json")
	indexDst := filepath.Join(backupDir, "sessions.json")
	if err := copyFile(indexSrc, indexDst); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || strings.HasSuffix(file.Name(), ".tmp") {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0644)
}
