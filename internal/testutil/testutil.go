package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crudmeter/crudmeter/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420421

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// resetSchema drops and recreates one migration's schema.
func resetSchema(ctx context.Context, pool *pgxpool.Pool, name string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	downPath := filepath.Join(root, "migrations", name+".down.sql")
	upPath := filepath.Join(root, "migrations", name+".up.sql")

	downSQL, err := os.ReadFile(downPath)
	if err != nil {
		return fmt.Errorf("read %s down migration: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
		return fmt.Errorf("apply %s down migration: %w", name, err)
	}

	upSQL, err := os.ReadFile(upPath)
	if err != nil {
		return fmt.Errorf("read %s up migration: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		return fmt.Errorf("apply %s up migration: %w", name, err)
	}

	return nil
}

// ResetUsersSchema drops and recreates the users schema for tests.
func ResetUsersSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000001_users")
}

// ResetItemsSchema drops and recreates the items schema for tests.
func ResetItemsSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000002_items")
}

// ResetUsageSchema drops and recreates the usage schema for tests.
func ResetUsageSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000003_usage")
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// NewTestUser creates a test user with sensible defaults. The key hash is a
// placeholder; tests that exercise key verification should generate a real
// key with auth.GenerateAPIKey.
func NewTestUser(t testing.TB, subjectID string) *model.User {
	t.Helper()
	now := time.Now().UTC()
	return &model.User{
		ID:        UniqueID("user"),
		SubjectID: subjectID,
		Email:     subjectID + "@example.com",
		KeyHash:   fmt.Sprintf("hash-%d", now.UnixNano()),
		KeyPrefix: "abc123",
		Credits:   4,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestItem creates a test item owned by the given user.
func NewTestItem(t testing.TB, ownerID string) *model.Item {
	t.Helper()
	now := time.Now().UTC()
	return &model.Item{
		ID:        UniqueID("item"),
		OwnerID:   ownerID,
		Value:     42,
		TxHash:    fmt.Sprintf("%x", now.UnixNano()),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
