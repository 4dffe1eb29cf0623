package testutil

import (
	"context"
	"testing"

	"github.com/hoonseung2/aidietdiary/internal/models"
	"github.com/hoonseung2/aidietdiary/internal/storage"
)

// OpenTestStorage creates an in-memory SQLite storage with the diary schema.
func OpenTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	stor, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = stor.Close() })
	return stor
}

// SeedFoods loads reference rows into the food metadata table.
func SeedFoods(t *testing.T, stor *storage.SQLiteStorage, foods ...models.FoodMetadataRow) {
	t.Helper()

	if _, err := stor.ImportFoods(context.Background(), foods, false); err != nil {
		t.Fatalf("seed foods: %v", err)
	}
}
