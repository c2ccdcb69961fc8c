package migrations_test

import (
	"context"
	"testing"

	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
	_ "github.com/verkstad/toolmgmt/migrations"
)

func TestEmbeddedMigrations_UpAndDown(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	n, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n == 0 {
		t.Fatal("Migrate() applied no embedded migrations")
	}

	for _, table := range []string{
		"machines", "users", "user_machines", "tool_changes", "compensations",
		"disturbances", "matrix_codes", "machine_last_orders", "tools", "audit_logs",
	} {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("query error: %v", err)
		}
		if count != 1 {
			t.Errorf("table %s missing after migrate", table)
		}
	}

	// Every migration ships a down file.
	for i := 0; i < n; i++ {
		if _, err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() step %d error = %v", i, err)
		}
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != n {
		t.Errorf("after full rollback: %d applied, %d pending; want 0, %d", len(applied), len(pending), n)
	}
}

func TestMachineNumberCheck(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	insert := `INSERT INTO machines (id, number, display_name, created_at, updated_at)
		VALUES (?, ?, 'Fanuc Robodrill', '2026-03-01T09:00:00Z', '2026-03-01T09:00:00Z')`
	if _, err := db.ExecContext(ctx, insert, "mch-1", "5701"); err != nil {
		t.Fatalf("valid insert error = %v", err)
	}
	for _, bad := range []string{"570", "57011", "57a1"} {
		if _, err := db.ExecContext(ctx, insert, "mch-"+bad, bad); err == nil {
			t.Errorf("number %q accepted by schema", bad)
		}
	}
	if _, err := db.ExecContext(ctx, insert, "mch-2", "5701"); err == nil {
		t.Error("duplicate number accepted by schema")
	}
}
