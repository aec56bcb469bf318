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
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/selah/selah/internal/model"
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

const advisoryLockID int64 = 520520

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

// ResetSchema drops and recreates every table from the init migration.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	for _, name := range []string{"000001_init.down.sql", "000001_init.up.sql"} {
		sql, err := os.ReadFile(filepath.Join(root, "migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	return nil
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
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", "..")), nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates an individual user with a unique auth ID.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	now := time.Now().UTC()
	return &model.User{
		ID:          ulid.Make().String(),
		AuthID:      UniqueID("auth"),
		Email:       email,
		AccountKind: model.AccountIndividual,
		Role:        model.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestExperiment creates a draft daily experiment for ownerID.
func NewTestExperiment(t testing.TB, ownerID string) *model.Experiment {
	t.Helper()
	now := time.Now().UTC()
	return &model.Experiment{
		ID:           ulid.Make().String(),
		OwnerID:      ownerID,
		Title:        "Morning walk",
		Hypothesis:   "Walking before work improves focus",
		DurationDays: 14,
		Frequency:    model.FrequencyDaily,
		Status:       model.StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestField creates a field of the given type at position.
func NewTestField(t testing.TB, label string, typ model.FieldType, position int) model.ExperimentField {
	t.Helper()
	f := model.ExperimentField{
		ID:       ulid.Make().String(),
		Label:    label,
		Type:     typ,
		Position: position,
	}
	if typ == model.FieldSelect {
		f.Config.Options = []string{"low", "medium", "high"}
	}
	return f
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
