package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reaction-reminder/internal/domain"
)

type WatchedItemRepository interface {
	Save(ctx context.Context, item *domain.WatchedItem) error
	GetByID(ctx context.Context, itemID string) (*domain.WatchedItem, error)
	Delete(ctx context.Context, itemID, guildID string) (bool, error)
	ListByGuild(ctx context.Context, guildID string) ([]domain.WatchedItem, error)
	ListActive(ctx context.Context) ([]domain.WatchedItem, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.WatchedItem, error)
	UpdateLastReminderAt(ctx context.Context, itemID string, at time.Time) error
	UpdateRespondedUsers(ctx context.Context, itemID string, userIDs []string) error
	UpdateAccessibleUsers(ctx context.Context, itemID string, userIDs []string) error
	SetPaused(ctx context.Context, itemID, guildID string, paused bool) (bool, error)
	Counts(ctx context.Context) (total int64, active int64, err error)
}

type GormWatchedItemRepo struct {
	db *gorm.DB
}

func NewGormWatchedItemRepo(db *gorm.DB) *GormWatchedItemRepo {
	return &GormWatchedItemRepo{db: db}
}

// Save upserts by item id. The caller decides what survives an update, so
// every column except item_id and created_at is overwritten.
func (r *GormWatchedItemRepo) Save(ctx context.Context, item *domain.WatchedItem) error {
	model := watchedItemModelFromDomain(item)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"channel_id",
				"guild_id",
				"title",
				"interval_minutes",
				"is_paused",
				"last_reminder_at",
				"responded_user_ids",
				"accessible_user_ids",
				"updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if item != nil {
		*item = *watchedItemModelToDomain(model)
	}
	return nil
}

func (r *GormWatchedItemRepo) GetByID(ctx context.Context, itemID string) (*domain.WatchedItem, error) {
	var model WatchedItemModel
	err := r.db.WithContext(ctx).First(&model, "item_id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return watchedItemModelToDomain(&model), nil
}

func (r *GormWatchedItemRepo) Delete(ctx context.Context, itemID, guildID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("item_id = ? AND guild_id = ?", itemID, guildID).
		Delete(&WatchedItemModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormWatchedItemRepo) ListByGuild(ctx context.Context, guildID string) ([]domain.WatchedItem, error) {
	var models []WatchedItemModel
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return watchedItemModelsToDomain(models), nil
}

func (r *GormWatchedItemRepo) ListActive(ctx context.Context) ([]domain.WatchedItem, error) {
	var models []WatchedItemModel
	err := r.db.WithContext(ctx).
		Where("is_paused = FALSE").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return watchedItemModelsToDomain(models), nil
}

// ListDue returns non-paused items whose interval has elapsed since the last
// reminder. A null last_reminder_at means the item has never been reminded
// and is due immediately, which is why those sort first.
func (r *GormWatchedItemRepo) ListDue(ctx context.Context, now time.Time) ([]domain.WatchedItem, error) {
	var models []WatchedItemModel
	err := r.db.WithContext(ctx).
		Where("is_paused = FALSE AND (last_reminder_at IS NULL OR last_reminder_at + interval_minutes * INTERVAL '1 minute' <= ?)", now).
		Order("last_reminder_at ASC NULLS FIRST").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return watchedItemModelsToDomain(models), nil
}

func (r *GormWatchedItemRepo) UpdateLastReminderAt(ctx context.Context, itemID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&WatchedItemModel{}).
		Where("item_id = ?", itemID).
		Update("last_reminder_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWatchedItemRepo) UpdateRespondedUsers(ctx context.Context, itemID string, userIDs []string) error {
	result := r.db.WithContext(ctx).
		Model(&WatchedItemModel{}).
		Where("item_id = ?", itemID).
		Update("responded_user_ids", StringList(userIDs))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWatchedItemRepo) UpdateAccessibleUsers(ctx context.Context, itemID string, userIDs []string) error {
	result := r.db.WithContext(ctx).
		Model(&WatchedItemModel{}).
		Where("item_id = ?", itemID).
		Update("accessible_user_ids", StringList(userIDs))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWatchedItemRepo) SetPaused(ctx context.Context, itemID, guildID string, paused bool) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&WatchedItemModel{}).
		Where("item_id = ? AND guild_id = ?", itemID, guildID).
		Update("is_paused", paused)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormWatchedItemRepo) Counts(ctx context.Context) (int64, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&WatchedItemModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}

	var active int64
	if err := r.db.WithContext(ctx).
		Model(&WatchedItemModel{}).
		Where("is_paused = FALSE").
		Count(&active).Error; err != nil {
		return 0, 0, err
	}

	return total, active, nil
}

func watchedItemModelsToDomain(models []WatchedItemModel) []domain.WatchedItem {
	items := make([]domain.WatchedItem, 0, len(models))
	for i := range models {
		items = append(items, *watchedItemModelToDomain(&models[i]))
	}
	return items
}
