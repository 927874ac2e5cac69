package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_merchant_idempotency ON notifications (merchant_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_bulk_recipient ON notifications (bulk_id, recipient) WHERE bulk_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (available_at) WHERE status = 'pending' AND available_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_processing ON notifications (processing_started_at) WHERE status = 'processing'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_campaign_status ON notifications (campaign_id, status) WHERE campaign_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_merchant_created ON notifications (merchant_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_correlation_id ON notifications (correlation_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
