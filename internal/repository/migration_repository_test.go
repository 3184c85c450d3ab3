package repository

import (
	"context"
	"testing"

	"salon-gateway/internal/domain"
)

func TestMigrationRepository_RecordAndFind(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)

	if err := repo.EnsureSchemaTable(ctx); err != nil {
		t.Fatalf("EnsureSchemaTable failed: %v", err)
	}
	// 2回目は何もしない
	if err := repo.EnsureSchemaTable(ctx); err != nil {
		t.Fatalf("EnsureSchemaTable failed on second call: %v", err)
	}

	applied, err := repo.IsMigrationApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if applied {
		t.Error("expected 001 not applied")
	}

	for _, m := range []*domain.Migration{
		{Version: "002", Name: "add_index"},
		{Version: "001", Name: "create_decrypt_batches"},
	} {
		if err := repo.RecordMigration(ctx, nil, m); err != nil {
			t.Fatalf("RecordMigration failed: %v", err)
		}
	}

	applied, err = repo.IsMigrationApplied(ctx, "001")
	if err != nil {
		t.Fatalf("IsMigrationApplied failed: %v", err)
	}
	if !applied {
		t.Error("expected 001 applied")
	}

	migrations, err := repo.FindAllApplied(ctx)
	if err != nil {
		t.Fatalf("FindAllApplied failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[0].Name != "create_decrypt_batches" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].AppliedAt == nil || migrations[0].Status != domain.MigrationStatusApplied {
		t.Errorf("expected applied status with timestamp: %+v", migrations[0])
	}
}

func TestMigrationRepository_RecordDuplicate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)

	if err := repo.EnsureSchemaTable(ctx); err != nil {
		t.Fatalf("EnsureSchemaTable failed: %v", err)
	}
	m := &domain.Migration{Version: "001", Name: "create_decrypt_batches"}
	if err := repo.RecordMigration(ctx, nil, m); err != nil {
		t.Fatalf("RecordMigration failed: %v", err)
	}
	if err := repo.RecordMigration(ctx, nil, m); err == nil {
		t.Error("expected error for duplicate version")
	}
}
