package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/relaycargo/relay/backend/internal/collab"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesAcceptedStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&collab.CollaborationRequest{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := collab.CollaborationRequest{
		ID:         "req-legacy",
		FromUserID: "U1",
		ToUserID:   "U2",
		Status:     collab.RequestStatus("accepted"),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy request: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored collab.CollaborationRequest
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload request: %v", err)
	}
	if stored.Status != collab.StatusConfirmed {
		testContext.Fatalf("expected confirmed status, got %s", stored.Status)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeAcceptedStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// A second run must be a no-op.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}
