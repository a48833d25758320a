package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables backing models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("[Database] auto-migration failed", zap.Error(err))
		return fmt.Errorf("auto-migrate: %w", err)
	}

	zap.L().Info("[Database] schema up to date", zap.Int("models", len(models)))
	return nil
}
