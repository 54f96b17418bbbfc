package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"reaction-reminder/internal/domain"
)

// StringList stores an ordered list of opaque ids as a jsonb column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported source type %T for StringList", value)
	}
}

// WatchedItemModel is the persistence model for the watched_items table.
type WatchedItemModel struct {
	ItemID            string     `gorm:"type:varchar(64);primaryKey"`
	ChannelID         string     `gorm:"type:varchar(64);not null"`
	GuildID           string     `gorm:"type:varchar(64);not null"`
	Title             string     `gorm:"type:text;not null"`
	IntervalMinutes   int        `gorm:"not null"`
	IsPaused          bool       `gorm:"not null;default:false"`
	LastReminderAt    *time.Time `gorm:"type:timestamptz"`
	RespondedUserIDs  StringList `gorm:"type:jsonb;not null;default:'[]'"`
	AccessibleUserIDs StringList `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (WatchedItemModel) TableName() string {
	return "watched_items"
}

// ReminderLogModel is the persistence model for the reminder_logs table.
type ReminderLogModel struct {
	ID             string           `gorm:"type:uuid;primaryKey"`
	ItemID         string           `gorm:"type:varchar(64);not null"`
	GuildID        string           `gorm:"type:varchar(64);not null"`
	ScheduledAt    time.Time        `gorm:"type:timestamptz;not null"`
	SentAt         *time.Time       `gorm:"type:timestamptz"`
	RecipientCount int              `gorm:"not null;default:0"`
	Status         domain.LogStatus `gorm:"type:varchar(20);not null"`
	ErrorDetail    *string          `gorm:"type:text"`
	CreatedAt      time.Time
}

func (ReminderLogModel) TableName() string {
	return "reminder_logs"
}

// GuildSettingModel is the persistence model for per-guild configuration.
type GuildSettingModel struct {
	GuildID          string     `gorm:"type:varchar(64);primaryKey"`
	ReactionSymbols  StringList `gorm:"type:jsonb;not null;default:'[]'"`
	ReactionMeanings StringList `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (GuildSettingModel) TableName() string {
	return "guild_settings"
}

func watchedItemModelFromDomain(item *domain.WatchedItem) *WatchedItemModel {
	if item == nil {
		return nil
	}

	return &WatchedItemModel{
		ItemID:            item.ItemID,
		ChannelID:         item.ChannelID,
		GuildID:           item.GuildID,
		Title:             item.Title,
		IntervalMinutes:   item.IntervalMinutes,
		IsPaused:          item.IsPaused,
		LastReminderAt:    item.LastReminderAt,
		RespondedUserIDs:  StringList(item.RespondedUserIDs),
		AccessibleUserIDs: StringList(item.AccessibleUserIDs),
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
}

func watchedItemModelToDomain(m *WatchedItemModel) *domain.WatchedItem {
	if m == nil {
		return nil
	}

	return &domain.WatchedItem{
		ItemID:            m.ItemID,
		ChannelID:         m.ChannelID,
		GuildID:           m.GuildID,
		Title:             m.Title,
		IntervalMinutes:   m.IntervalMinutes,
		IsPaused:          m.IsPaused,
		LastReminderAt:    m.LastReminderAt,
		RespondedUserIDs:  []string(m.RespondedUserIDs),
		AccessibleUserIDs: []string(m.AccessibleUserIDs),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func reminderLogModelFromDomain(entry *domain.ReminderLog) *ReminderLogModel {
	if entry == nil {
		return nil
	}

	return &ReminderLogModel{
		ID:             entry.ID,
		ItemID:         entry.ItemID,
		GuildID:        entry.GuildID,
		ScheduledAt:    entry.ScheduledAt,
		SentAt:         entry.SentAt,
		RecipientCount: entry.RecipientCount,
		Status:         entry.Status,
		ErrorDetail:    entry.ErrorDetail,
		CreatedAt:      entry.CreatedAt,
	}
}

func reminderLogModelToDomain(m *ReminderLogModel) *domain.ReminderLog {
	if m == nil {
		return nil
	}

	return &domain.ReminderLog{
		ID:             m.ID,
		ItemID:         m.ItemID,
		GuildID:        m.GuildID,
		ScheduledAt:    m.ScheduledAt,
		SentAt:         m.SentAt,
		RecipientCount: m.RecipientCount,
		Status:         m.Status,
		ErrorDetail:    m.ErrorDetail,
		CreatedAt:      m.CreatedAt,
	}
}

func reactionStyleFromModel(m *GuildSettingModel) domain.ReactionStyle {
	if m == nil {
		return domain.DefaultReactionStyle()
	}

	return domain.ReactionStyle{
		Symbols:  []string(m.ReactionSymbols),
		Meanings: []string(m.ReactionMeanings),
	}
}
