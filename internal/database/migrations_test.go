package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsContentCreatedAt(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&content.LocalRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	rows := []content.LocalRecord{
		{Collection: content.CollectionProjects, RecordID: "1700000000123", UpdatedAtMs: 5, PayloadJSON: `{}`},
		{Collection: content.CollectionProjects, RecordID: "legacy-slug", UpdatedAtMs: 42, PayloadJSON: `{}`},
	}
	if err := database.Create(&rows).Error; err != nil {
		testContext.Fatalf("failed to insert rows: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]int64{"1700000000123": 1700000000123, "legacy-slug": 42}
	for id, want := range expected {
		var stored content.LocalRecord
		if err := database.Where("collection = ? AND record_id = ?", content.CollectionProjects, id).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to reload %s: %v", id, err)
		}
		if stored.CreatedAtMs != want {
			testContext.Fatalf("expected created_at_ms %d for %s, got %d", want, id, stored.CreatedAtMs)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillContentCreatedAt).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-run to be a no-op: %v", err)
	}
}
