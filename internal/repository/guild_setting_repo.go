package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reaction-reminder/internal/domain"
)

type GuildSettingRepository interface {
	GetReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error)
	SaveReactionStyle(ctx context.Context, guildID string, style domain.ReactionStyle) error
}

type GormGuildSettingRepo struct {
	db *gorm.DB
}

func NewGormGuildSettingRepo(db *gorm.DB) *GormGuildSettingRepo {
	return &GormGuildSettingRepo{db: db}
}

// GetReactionStyle returns the guild's configured style, falling back to the
// default style for guilds that never configured one.
func (r *GormGuildSettingRepo) GetReactionStyle(ctx context.Context, guildID string) (domain.ReactionStyle, error) {
	var model GuildSettingModel
	err := r.db.WithContext(ctx).First(&model, "guild_id = ?", guildID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultReactionStyle(), nil
	}
	if err != nil {
		return domain.ReactionStyle{}, err
	}

	if len(model.ReactionSymbols) == 0 {
		return domain.DefaultReactionStyle(), nil
	}

	return reactionStyleFromModel(&model), nil
}

func (r *GormGuildSettingRepo) SaveReactionStyle(ctx context.Context, guildID string, style domain.ReactionStyle) error {
	model := &GuildSettingModel{
		GuildID:          guildID,
		ReactionSymbols:  StringList(style.Symbols),
		ReactionMeanings: StringList(style.Meanings),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"reaction_symbols",
				"reaction_meanings",
				"updated_at",
			}),
		}).
		Create(model).Error
}
