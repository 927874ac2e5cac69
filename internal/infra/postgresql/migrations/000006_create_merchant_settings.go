package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"gorm.io/gorm"
)

func createMerchantSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_merchant_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.MerchantSettingsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MerchantSettingsModel{})
		},
	}
}
