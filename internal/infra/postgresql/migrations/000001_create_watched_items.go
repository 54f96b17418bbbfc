package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"reaction-reminder/internal/repository"
)

func createWatchedItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_watched_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WatchedItemModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_watched_items_guild_id ON watched_items (guild_id)`,
				`CREATE INDEX IF NOT EXISTS idx_watched_items_due ON watched_items (last_reminder_at) WHERE is_paused = FALSE`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WatchedItemModel{})
		},
	}
}
