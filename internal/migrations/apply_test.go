package migrations

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNamesSorted(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
}

func TestApplyRecordsEachFileOnce(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer db.Close()

	if err := Apply(ctx, db, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	var again []string
	if err := Apply(ctx, db, func(name string) { again = append(again, name) }); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-applied %v", again)
	}

	names, _ := Names()
	var recorded int
	if err := db.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&recorded); err != nil {
		t.Fatalf("count: %v", err)
	}
	if recorded < len(names) {
		t.Fatalf("recorded %d of %d migrations", recorded, len(names))
	}
}
