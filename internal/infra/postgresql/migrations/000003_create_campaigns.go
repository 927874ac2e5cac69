package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createCampaignTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.CampaignModel{},
				&repository.CampaignRecipientModel{},
				&repository.CampaignEventModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled_due ON campaigns (scheduled_at) WHERE status = 'scheduled'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_recipients_address ON campaign_recipients (campaign_id, address)`,
				`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_pending ON campaign_recipients (campaign_id, created_at) WHERE status = 'pending' AND notification_id IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_notification ON campaign_recipients (notification_id) WHERE notification_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.CampaignEventModel{},
				&repository.CampaignRecipientModel{},
				&repository.CampaignModel{},
			)
		},
	}
}
