// Package store is the persistence layer for conversations, fragments and
// usage counters. Postgres in production, pure-Go SQLite otherwise.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fragmentforge/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps the GORM database instance.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres when databaseURL is set, otherwise to a local
// SQLite file (":memory:" is accepted for tests).
func Open(databaseURL string) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open("fragmentforge.db"), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens an explicit SQLite DSN; used by tests.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&models.Conversation{},
		&models.ConversationMessage{},
		&models.Fragment{},
		&models.UsageRecord{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreateConversation loads a conversation, creating it on first use.
func (s *Store) GetOrCreateConversation(ctx context.Context, id, orgID, projectID, userID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        id,
		OrgID:     orgID,
		ProjectID: projectID,
		UserID:    userID,
		Status:    models.ConversationStatusIdle,
	}
	err := s.db.WithContext(ctx).
		Where(models.Conversation{ID: id}).
		FirstOrCreate(conv).Error
	if err != nil {
		return nil, fmt.Errorf("get or create conversation %s: %w", id, err)
	}
	return conv, nil
}

// GetConversation loads one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return &conv, nil
}

// AppendMessage persists one transcript entry with the next sequence
// number for the conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, kind, content string) (*models.ConversationMessage, error) {
	msg := &models.ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Kind:           kind,
		Content:        content,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.ConversationMessage{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w", conversationID, err)
	}
	return msg, nil
}

// Transcript returns the conversation's chat messages in order. Routing
// acknowledgments and run results are excluded: they are user-facing
// decoration, not model context.
func (s *Store) Transcript(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	var msgs []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND kind = ?", conversationID, models.MessageKindChat).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", conversationID, err)
	}
	return msgs, nil
}

// AllMessages returns every persisted entry for a conversation in order,
// acknowledgments and run results included.
func (s *Store) AllMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	var msgs []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages %s: %w", conversationID, err)
	}
	return msgs, nil
}

// UpdateRouting stores the latest routing decision on the conversation.
func (s *Store) UpdateRouting(ctx context.Context, conversationID, convType, reason, status string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"type":           convType,
			"routing_reason": reason,
			"status":         status,
		}).Error
	if err != nil {
		return fmt.Errorf("update routing for %s: %w", conversationID, err)
	}
	return nil
}

// SetConversationStatus updates only the status column.
func (s *Store) SetConversationStatus(ctx context.Context, conversationID, status string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("set status for %s: %w", conversationID, err)
	}
	return nil
}

// SetContainerName records the container carried across turns of a thread.
func (s *Store) SetContainerName(ctx context.Context, conversationID, containerName string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("container_name", containerName).Error
	if err != nil {
		return fmt.Errorf("set container for %s: %w", conversationID, err)
	}
	return nil
}

// SaveFragment persists a run result snapshot.
func (s *Store) SaveFragment(ctx context.Context, frag *models.Fragment) error {
	if frag.ID == "" {
		frag.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(frag).Error; err != nil {
		return fmt.Errorf("save fragment for %s: %w", frag.ConversationID, err)
	}
	return nil
}

// LatestFragment returns the most recent fragment for a conversation, or
// nil when none has been produced yet.
func (s *Store) LatestFragment(ctx context.Context, conversationID string) (*models.Fragment, error) {
	var frag models.Fragment
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&frag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest fragment for %s: %w", conversationID, err)
	}
	return &frag, nil
}

// AddUsage upserts the per-org daily counters.
func (s *Store) AddUsage(ctx context.Context, orgID string, aiRequests, aiTokens, runs int64) error {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	rec := &models.UsageRecord{
		OrgID:      orgID,
		Day:        day,
		AIRequests: aiRequests,
		AITokens:   aiTokens,
		Runs:       runs,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"ai_requests": gorm.Expr("usage_records.ai_requests + ?", aiRequests),
			"ai_tokens":   gorm.Expr("usage_records.ai_tokens + ?", aiTokens),
			"runs":        gorm.Expr("usage_records.runs + ?", runs),
			"updated_at":  time.Now().UTC(),
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("add usage for org %s: %w", orgID, err)
	}
	return nil
}

// Usage returns today's counters for an org; zero-valued when absent.
func (s *Store) Usage(ctx context.Context, orgID string) (*models.UsageRecord, error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	var rec models.UsageRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND day = ?", orgID, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UsageRecord{OrgID: orgID, Day: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage for org %s: %w", orgID, err)
	}
	return &rec, nil
}
