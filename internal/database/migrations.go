package database

import (
	"fmt"

	"appraisal/server/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.gorm.AutoMigrate(
		&models.Property{},
		&models.ValuationHistory{},
		&models.AdjustmentCoefficient{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Nearby searches filter on both coordinates
	if err := d.gorm.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_coordinates
		ON properties(location_lat, location_lng)
	`).Error; err != nil {
		return fmt.Errorf("failed to create coordinates index: %w", err)
	}

	if err := d.gorm.Exec(`
		CREATE INDEX IF NOT EXISTS idx_coefficients_feature_active
		ON adjustment_coefficients(feature_name, is_active)
	`).Error; err != nil {
		return fmt.Errorf("failed to create coefficient index: %w", err)
	}

	// At most one active coefficient per feature, for both drivers
	if err := d.gorm.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_coefficients_one_active
		ON adjustment_coefficients(feature_name) WHERE is_active
	`).Error; err != nil {
		return fmt.Errorf("failed to create active coefficient index: %w", err)
	}

	d.logger.Info("Database migrations completed")
	return nil
}
