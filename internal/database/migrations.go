package database

import (
	"errors"
	"time"

	"github.com/relaycargo/relay/backend/internal/collab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeAcceptedStatus = "2026-07-12_normalize_accepted_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeAcceptedStatus, apply: normalizeAcceptedStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Databases written before the quote step existed store confirmed requests
// under the legacy "accepted" status.
func normalizeAcceptedStatus(db *gorm.DB) error {
	return db.Model(&collab.CollaborationRequest{}).
		Where("status = ?", "accepted").
		Update("status", collab.StatusConfirmed).Error
}
