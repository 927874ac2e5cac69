package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createProvidersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_providers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ProviderModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_channel_name ON providers (channel, name)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProviderModel{})
		},
	}
}
