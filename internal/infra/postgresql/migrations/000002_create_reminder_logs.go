package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"reaction-reminder/internal/repository"
)

func createReminderLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_reminder_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ReminderLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_reminder_logs_item_created ON reminder_logs (item_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_reminder_logs_guild_id ON reminder_logs (guild_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReminderLogModel{})
		},
	}
}
