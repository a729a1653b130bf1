package conversation

import (
	"context"
	"fmt"

	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const saveBatchSize = 100

// GormStore persists turns in a SQL database through gorm.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a gorm-backed store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "conversation_store")),
	}
}

// AutoMigrate creates or updates the messages table.
func (s *GormStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&MessageRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate conversation_messages: %w", err)
	}
	return nil
}

// SaveMessages inserts turns, skipping ids that already exist.
func (s *GormStore) SaveMessages(ctx context.Context, resourceID, threadID string, turns []types.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	records := make([]MessageRecord, 0, len(turns))
	for _, t := range turns {
		rec, err := recordFromTurn(t.Normalize(resourceID, threadID))
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(&records, saveBatchSize)
	if result.Error != nil {
		return fmt.Errorf("save messages for %s: %w", resourceID, result.Error)
	}

	s.logger.Debug("messages saved",
		zap.String("resource_id", resourceID),
		zap.String("thread_id", threadID),
		zap.Int("turns", len(turns)),
		zap.Int64("inserted", result.RowsAffected),
	)
	return nil
}

// ListMessages returns the newest limit turns of a thread, oldest first.
func (s *GormStore) ListMessages(ctx context.Context, resourceID, threadID string, limit int) ([]types.Turn, error) {
	var records []MessageRecord
	q := s.db.WithContext(ctx).
		Where("resource_id = ? AND thread_id = ?", resourceID, threadID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", resourceID, err)
	}

	turns := make([]types.Turn, len(records))
	for i, rec := range records {
		t, err := rec.turn()
		if err != nil {
			return nil, err
		}
		turns[len(records)-1-i] = t
	}
	return turns, nil
}

// CountMessages returns the number of stored turns of a thread.
func (s *GormStore) CountMessages(ctx context.Context, resourceID, threadID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("resource_id = ? AND thread_id = ?", resourceID, threadID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages for %s: %w", resourceID, err)
	}
	return n, nil
}
