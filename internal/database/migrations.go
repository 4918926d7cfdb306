package database

import (
	"errors"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillContentCreatedAt = "2026-10-01_backfill_content_created_at"

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
		{name: migrationBackfillContentCreatedAt, apply: backfillContentCreatedAt},
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

// backfillContentCreatedAt derives the ordering key of rows imported without one from their
// timestamp identifiers. Rows with non-numeric ids keep their update time.
func backfillContentCreatedAt(db *gorm.DB) error {
	var rows []content.LocalRecord
	if err := db.Where("created_at_ms = 0").Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		createdAt := row.UpdatedAtMs
		if parsed, err := strconv.ParseInt(row.RecordID, 10, 64); err == nil && parsed > 0 {
			createdAt = parsed
		}
		if err := db.Model(&content.LocalRecord{}).
			Where("collection = ? AND record_id = ?", row.Collection, row.RecordID).
			Update("created_at_ms", createdAt).Error; err != nil {
			return err
		}
	}
	return nil
}
