//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/testutil"
)

// ============================================================================
// Item Repository Integration Tests
// ============================================================================

func TestIntegrationItemRepository_CreateItem(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-create")

	item := testutil.NewTestItem(t, owner.ID)

	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	retrieved, err := repo.GetItemByID(ctx, item.ID, owner.ID)
	if err != nil {
		t.Fatalf("GetItemByID failed: %v", err)
	}

	if retrieved.Value != item.Value {
		t.Errorf("Value mismatch: got %d, want %d", retrieved.Value, item.Value)
	}
	if retrieved.TxHash != item.TxHash {
		t.Errorf("TxHash mismatch: got %q, want %q", retrieved.TxHash, item.TxHash)
	}
	if retrieved.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestIntegrationItemRepository_GetItemByID_ForeignOwner(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-owner")
	stranger := createTestOwner(t, ctx, repo, "github|item-stranger")

	item := testutil.NewTestItem(t, owner.ID)
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	// Another user's item must look exactly like a missing one.
	_, err := repo.GetItemByID(ctx, item.ID, stranger.ID)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for foreign owner, got: %v", err)
	}

	_, err = repo.GetItemByID(ctx, "item-missing", owner.ID)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for missing item, got: %v", err)
	}
}

func TestIntegrationItemRepository_GetItemByTxHash(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-tx")
	stranger := createTestOwner(t, ctx, repo, "github|item-tx-stranger")

	item := testutil.NewTestItem(t, owner.ID)
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	retrieved, err := repo.GetItemByTxHash(ctx, item.TxHash, owner.ID)
	if err != nil {
		t.Fatalf("GetItemByTxHash failed: %v", err)
	}
	if retrieved.ID != item.ID {
		t.Errorf("ID mismatch: got %q, want %q", retrieved.ID, item.ID)
	}

	_, err = repo.GetItemByTxHash(ctx, item.TxHash, stranger.ID)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for foreign owner, got: %v", err)
	}
}

func TestIntegrationItemRepository_ListItemsByOwner(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-list")
	stranger := createTestOwner(t, ctx, repo, "github|item-list-other")

	first := testutil.NewTestItem(t, owner.ID)
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	second := testutil.NewTestItem(t, owner.ID)
	foreign := testutil.NewTestItem(t, stranger.ID)

	for _, item := range []*model.Item{first, second, foreign} {
		if err := repo.CreateItem(ctx, item); err != nil {
			t.Fatalf("CreateItem failed: %v", err)
		}
	}

	items, err := repo.ListItemsByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListItemsByOwner failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	// Newest first.
	if items[0].ID != second.ID {
		t.Errorf("Order mismatch: got %q first, want %q", items[0].ID, second.ID)
	}
	for _, item := range items {
		if item.OwnerID != owner.ID {
			t.Errorf("Listed item %q belongs to %q, want %q", item.ID, item.OwnerID, owner.ID)
		}
	}
}

func TestIntegrationItemRepository_UpdateItemValue(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-update")
	stranger := createTestOwner(t, ctx, repo, "github|item-update-other")

	item := testutil.NewTestItem(t, owner.ID)
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	updated, err := repo.UpdateItemValue(ctx, item.ID, owner.ID, 99)
	if err != nil {
		t.Fatalf("UpdateItemValue failed: %v", err)
	}
	if updated.Value != 99 {
		t.Errorf("Value mismatch: got %d, want 99", updated.Value)
	}

	_, err = repo.UpdateItemValue(ctx, item.ID, stranger.ID, 7)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for foreign owner, got: %v", err)
	}

	retrieved, err := repo.GetItemByID(ctx, item.ID, owner.ID)
	if err != nil {
		t.Fatalf("GetItemByID failed: %v", err)
	}
	if retrieved.Value != 99 {
		t.Errorf("Foreign update leaked: got %d, want 99", retrieved.Value)
	}
}

func TestIntegrationItemRepository_DeleteItem(t *testing.T) {
	ctx, repo := newItemTestEnv(t)
	owner := createTestOwner(t, ctx, repo, "github|item-delete")
	stranger := createTestOwner(t, ctx, repo, "github|item-delete-other")

	item := testutil.NewTestItem(t, owner.ID)
	if err := repo.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	if err := repo.DeleteItem(ctx, item.ID, stranger.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for foreign owner, got: %v", err)
	}

	if err := repo.DeleteItem(ctx, item.ID, owner.ID); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}

	if err := repo.DeleteItem(ctx, item.ID, owner.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound on second delete, got: %v", err)
	}
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func newItemTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	// Items reference users, so the owner schema comes back first.
	if err := testutil.ResetUsersSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset users schema: %v", err)
	}
	if err := testutil.ResetItemsSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset items schema: %v", err)
	}

	return ctx, repo
}

func createTestOwner(t *testing.T, ctx context.Context, repo *Repository, subjectID string) *model.User {
	t.Helper()
	user := testutil.NewTestUser(t, subjectID)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return user
}
