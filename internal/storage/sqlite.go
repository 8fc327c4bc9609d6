package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"studio-backend/internal/model"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

type sessionRow struct {
	ID           string `gorm:"primaryKey"`
	Title        string
	CollectionID string
	VideoID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "sessions" }

type messageRow struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	ConvID     string `gorm:"index"`
	MsgType    string
	Status     string
	Actions    datatypes.JSON
	AgentNames datatypes.JSON
	Content    datatypes.JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (messageRow) TableName() string { return "messages" }

type contextRow struct {
	SessionID string `gorm:"primaryKey"`
	Entries   datatypes.JSON
	UpdatedAt time.Time
}

func (contextRow) TableName() string { return "contexts" }

// SQLiteStorage persists sessions, message records and contexts in SQLite
// through gorm.
type SQLiteStorage struct {
	dsn       string
	backupDir string
	db        *gorm.DB
}

func NewSQLiteStorage(dsn, backupDir string) *SQLiteStorage {
	return &SQLiteStorage{dsn: dsn, backupDir: backupDir}
}

func (s *SQLiteStorage) Init() error {
	if dir := filepath.Dir(s.dsn); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}

	db, err := gorm.Open(gormlite.Open(s.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}, &contextRow{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	s.db = db
	logger.Infof("SQLite storage initialized: %s", s.dsn)
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) Backup() error {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	target := filepath.Join(s.backupDir, fmt.Sprintf("backup_%d.db", time.Now().UnixNano()))
	if err := s.db.Exec("VACUUM INTO ?", target).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	logger.Infof("Backup completed: %s", target)
	return nil
}

func toSession(r *sessionRow) *model.Session {
	return &model.Session{
		ID:           r.ID,
		Title:        r.Title,
		CollectionID: r.CollectionID,
		VideoID:      r.VideoID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *SQLiteStorage) SaveSession(info *model.Session) error {
	if info == nil || info.ID == "" {
		return ErrInvalidData
	}
	row := sessionRow{
		ID:           info.ID,
		Title:        info.Title,
		CollectionID: info.CollectionID,
		VideoID:      info.VideoID,
		CreatedAt:    info.CreatedAt,
		UpdatedAt:    info.UpdatedAt,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "collection_id", "video_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(sessionID string) (*model.Session, error) {
	var row sessionRow
	err := s.db.First(&row, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return toSession(&row), nil
}

func (s *SQLiteStorage) DeleteSession(sessionID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&sessionRow{}, "id = ?", sessionID)
		if res.Error != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Delete(&messageRow{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := tx.Delete(&contextRow{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		return nil
	})
}

func (s *SQLiteStorage) DeleteSessionsBefore(t time.Time) (int, error) {
	var ids []string
	if err := s.db.Model(&sessionRow{}).Where("updated_at < ?", t).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	n := 0
	for _, id := range ids {
		if err := s.DeleteSession(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStorage) ListSessions() ([]*model.Session, error) {
	var rows []sessionRow
	if err := s.db.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	sessions := make([]*model.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, toSession(&rows[i]))
	}
	return sessions, nil
}

func (s *SQLiteStorage) UpsertMessage(rec *model.MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidData
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	agents, err := json.Marshal(rec.AgentNames)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	row := messageRow{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		ConvID:     rec.ConvID,
		MsgType:    rec.MsgType,
		Status:     rec.Status,
		Actions:    datatypes.JSON(actions),
		AgentNames: datatypes.JSON(agents),
		Content:    datatypes.JSON(content),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", rec.SessionID).Count(&n).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if n == 0 {
			return ErrSessionNotFound
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "actions", "agent_names", "content", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		return tx.Model(&sessionRow{}).Where("id = ?", rec.SessionID).Update("updated_at", time.Now()).Error
	})
}

func toRecord(r *messageRow) (*model.MessageRecord, error) {
	rec := &model.MessageRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		ConvID:    r.ConvID,
		MsgType:   r.MsgType,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Actions, &rec.Actions); err != nil {
		return nil, fmt.Errorf("%w: actions of %s: %v", ErrInvalidData, r.ID, err)
	}
	if err := json.Unmarshal(r.AgentNames, &rec.AgentNames); err != nil {
		return nil, fmt.Errorf("%w: agents of %s: %v", ErrInvalidData, r.ID, err)
	}
	if err := json.Unmarshal(r.Content, &rec.Content); err != nil {
		return nil, fmt.Errorf("%w: content of %s: %v", ErrInvalidData, r.ID, err)
	}
	return rec, nil
}

func (s *SQLiteStorage) queryMessages(query *gorm.DB) ([]*model.MessageRecord, error) {
	var rows []messageRow
	if err := query.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	records := make([]*model.MessageRecord, 0, len(rows))
	for i := range rows {
		rec, err := toRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStorage) GetMessages(sessionID string) ([]*model.MessageRecord, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.queryMessages(s.db.Where("session_id = ?", sessionID))
}

func (s *SQLiteStorage) GetConversation(sessionID, convID string) ([]*model.MessageRecord, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.queryMessages(s.db.Where("session_id = ? AND conv_id = ?", sessionID, convID))
}

func (s *SQLiteStorage) SaveContext(sessionID string, entries []session.ContextEntry) error {
	if _, err := s.GetSession(sessionID); err != nil {
		return err
	}
	if entries == nil {
		entries = []session.ContextEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	row := contextRow{SessionID: sessionID, Entries: datatypes.JSON(data), UpdatedAt: time.Now()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entries", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (s *SQLiteStorage) LoadContext(sessionID string) ([]session.ContextEntry, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	var row contextRow
	err := s.db.First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	var entries []session.ContextEntry
	if err := json.Unmarshal(row.Entries, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return entries, nil
}
