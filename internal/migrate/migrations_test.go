package migrate

import (
	"context"
	"testing"

	"scriptline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := migrations[len(migrations)-1].Version
	for i := 0; i < 2; i++ {
		got, err := Migrate(ctx, conn)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("run %d: schema version %d, want %d", i, got, want)
		}
	}
	for _, table := range []string{"scripts", "events", "api_keys"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
