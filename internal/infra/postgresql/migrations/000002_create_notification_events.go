package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createNotificationEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notification_events_type ON notification_events (event_type, notification_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationEventModel{})
		},
	}
}
