package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
)

type IMessageRepository interface {
	Create(ctx context.Context, message *model.ChatMessage) error
	FindByPool(ctx context.Context, poolID string, afterSeqID int64, limit int) ([]*model.ChatMessage, error)
	FindByID(ctx context.Context, id int64) (*model.ChatMessage, error)
	LastSeq(ctx context.Context, poolID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// FindByPool returns messages oldest first, ordered by (created_at, seq_id).
// afterSeqID > 0 resumes after the message holding that sequence number;
// if that message is gone the cursor falls back to seq_id alone.
func (r *MessageRepository) FindByPool(ctx context.Context, poolID string, afterSeqID int64, limit int) ([]*model.ChatMessage, error) {
	var messages []*model.ChatMessage

	query := r.db.WithContext(ctx).Where("pool_id = ?", poolID)
	if afterSeqID > 0 {
		var cursor model.ChatMessage
		err := r.db.WithContext(ctx).
			Select("created_at", "seq_id").
			Where("pool_id = ? AND seq_id = ?", poolID, afterSeqID).
			Take(&cursor).Error
		switch {
		case err == nil:
			query = query.Where("(created_at > ? OR (created_at = ? AND seq_id > ?))",
				cursor.CreatedAt, cursor.CreatedAt, cursor.SeqID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			query = query.Where("seq_id > ?", afterSeqID)
		default:
			return nil, err
		}
	}
	err := query.Order("created_at ASC, seq_id ASC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// LastSeq returns the highest sequence number used in the pool, or 0.
func (r *MessageRepository) LastSeq(ctx context.Context, poolID string) (int64, error) {
	var last int64
	err := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("pool_id = ?", poolID).
		Select("COALESCE(MAX(seq_id), 0)").
		Scan(&last).Error
	return last, err
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.ChatMessage, error) {
	var message model.ChatMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteOlderThan removes at most limit messages created before cutoff,
// oldest first, and returns how many were removed.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Where("id IN ? AND created_at < ?", ids, cutoff).
		Delete(&model.ChatMessage{})
	return res.RowsAffected, res.Error
}
