package database

import (
	"digest-link-service/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.TokenRecord{},
		&domain.SecurityEvent{},
	)
}
