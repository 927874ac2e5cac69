package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createBulkNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_bulk_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BulkNotificationModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_bulk_notifications_due ON bulk_notifications (scheduled_at) WHERE status = 'pending'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BulkNotificationModel{})
		},
	}
}
