package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"reaction-reminder/internal/repository"
)

func createGuildSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_guild_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.GuildSettingModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.GuildSettingModel{})
		},
	}
}
