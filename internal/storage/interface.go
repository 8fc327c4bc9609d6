package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"studio-backend/internal/config"
	"studio-backend/internal/model"
	"studio-backend/internal/session"
)

type Storage interface {
	// sessions
	SaveSession(s *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	DeleteSession(sessionID string) error
	ListSessions() ([]*model.Session, error)
	DeleteSessionsBefore(t time.Time) (int, error)

	// message records, upserted by msg_id
	UpsertMessage(rec *model.MessageRecord) error
	GetMessages(sessionID string) ([]*model.MessageRecord, error)
	GetConversation(sessionID, convID string) ([]*model.MessageRecord, error)

	// reasoning context, replaced as a whole
	SaveContext(sessionID string, entries []session.ContextEntry) error
	LoadContext(sessionID string) ([]session.ContextEntry, error)

	// maintenance
	Init() error
	Close() error
	Backup() error
}

// New builds the storage selected by cfg.Type. The returned storage is not
// yet initialized.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "disk":
		return NewDiskStorage(cfg.DataDir, cfg.CacheSize), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "studio.db")
		}
		return NewSQLiteStorage(dsn, filepath.Join(cfg.DataDir, "backup")), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrStorageInit, cfg.Type)
	}
}

// upsertRecord replaces the record with the same id or appends rec,
// returning the new slice.
func upsertRecord(records []*model.MessageRecord, rec *model.MessageRecord) []*model.MessageRecord {
	cp := *rec
	for i, r := range records {
		if r.ID == rec.ID {
			cp.CreatedAt = r.CreatedAt
			records[i] = &cp
			return records
		}
	}
	return append(records, &cp)
}

func filterConversation(records []*model.MessageRecord, convID string) []*model.MessageRecord {
	out := make([]*model.MessageRecord, 0, len(records))
	for _, r := range records {
		if r.ConvID == convID {
			out = append(out, r)
		}
	}
	return out
}
