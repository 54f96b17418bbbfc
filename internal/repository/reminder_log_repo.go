package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"reaction-reminder/internal/domain"
)

type ReminderLogRepository interface {
	Create(ctx context.Context, entry *domain.ReminderLog) error
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errorDetail string) error
	ListByItem(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error)
}

type GormReminderLogRepo struct {
	db *gorm.DB
}

func NewGormReminderLogRepo(db *gorm.DB) *GormReminderLogRepo {
	return &GormReminderLogRepo{db: db}
}

func (r *GormReminderLogRepo) Create(ctx context.Context, entry *domain.ReminderLog) error {
	model := reminderLogModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *reminderLogModelToDomain(model)
	}
	return nil
}

// MarkSent transitions a pending entry to SENT. Entries only move out of
// PENDING once, so a zero-row update means the transition is no longer valid.
func (r *GormReminderLogRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ReminderLogModel{}).
		Where("id = ? AND status = ?", id, domain.LogStatusPending).
		Updates(map[string]any{
			"status":  domain.LogStatusSent,
			"sent_at": sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormReminderLogRepo) MarkFailed(ctx context.Context, id string, errorDetail string) error {
	result := r.db.WithContext(ctx).
		Model(&ReminderLogModel{}).
		Where("id = ? AND status = ?", id, domain.LogStatusPending).
		Updates(map[string]any{
			"status":       domain.LogStatusFailed,
			"error_detail": errorDetail,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormReminderLogRepo) ListByItem(ctx context.Context, itemID string, limit int) ([]domain.ReminderLog, error) {
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 200)

	var models []ReminderLogModel
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ReminderLog, 0, len(models))
	for i := range models {
		entries = append(entries, *reminderLogModelToDomain(&models[i]))
	}

	return entries, nil
}
