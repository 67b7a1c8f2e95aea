package course_test

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/platform/database"
)

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := course.NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := t.Context()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("courses"),
		postgres.WithUsername("courses"),
		postgres.WithPassword("courses"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := database.New(ctx, database.Options{URL: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// The schema is idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	runStoreContract(t, func(t *testing.T) course.Store {
		t.Helper()
		if _, err := db.Pool.Exec(t.Context(),
			`TRUNCATE courses, quiz_attempts, user_progress, course_events CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		store, err := course.NewPostgresStore(db.Pool)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		return store
	})
}
