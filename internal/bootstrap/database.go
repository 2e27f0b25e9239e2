package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"thrivesend/internal/models"
)

// Migrate ensures the schema exists.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Operation{},
		&models.SubTask{},
		&models.ContentSchedule{},
		&models.ScheduledInstance{},
		&models.Client{},
	}
}
