package db

import (
	"gorm.io/gorm"

	"tlsync/internal/models"
)

// Migrate прогоняет AutoMigrate для всех доменных моделей.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Device{},
		&models.Sensor{},
		&models.SensorReading{},
	)
}
