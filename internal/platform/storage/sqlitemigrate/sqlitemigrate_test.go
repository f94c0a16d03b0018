package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestApplyRecordsAppliedMigrations(t *testing.T) {
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"0001_create.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;"),
		},
	}

	if err := Apply(context.Background(), db, migrations, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", got)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'"); got != 1 {
		t.Fatal("expected items table to exist")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"0001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);")},
	}
	for i := 0; i < 2; i++ {
		if err := Apply(context.Background(), db, migrations, "."); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", got)
	}
}

func TestLoadOrdersAndPrefixesRoot(t *testing.T) {
	migrations := fstest.MapFS{
		"migrations/0002_b.sql":   &fstest.MapFile{Data: []byte("-- +migrate Up\nB")},
		"migrations/0001_a.sql":   &fstest.MapFile{Data: []byte("A")},
		"migrations/README.md":    &fstest.MapFile{Data: []byte("ignored")},
		"migrations/nested/x.sql": &fstest.MapFile{Data: []byte("ignored")},
	}

	got, err := Load(migrations, "migrations")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "migrations/0001_a.sql" || got[1].Name != "migrations/0002_b.sql" {
		t.Fatalf("names = %q, %q", got[0].Name, got[1].Name)
	}
	if got[1].Up != "\nB" {
		t.Fatalf("up = %q, want %q", got[1].Up, "\nB")
	}
}

func TestApplyRejectsNilDB(t *testing.T) {
	if err := Apply(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	db := openTestDB(t)
	migrations := fstest.MapFS{
		"0001_bad.sql": &fstest.MapFile{Data: []byte("CREATE TABLE ok(id TEXT); NOT SQL;")},
	}
	if err := Apply(context.Background(), db, migrations, ""); err == nil {
		t.Fatal("expected migration error")
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 0 {
		t.Fatalf("schema_migrations rows = %d, want 0", got)
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	if !IsAlreadyExistsError(errors.New("table items already exists")) {
		t.Fatal("expected already exists match")
	}
	if !IsAlreadyExistsError(errors.New("duplicate column name: bio")) {
		t.Fatal("expected duplicate column match")
	}
	if IsAlreadyExistsError(errors.New("syntax error")) || IsAlreadyExistsError(nil) {
		t.Fatal("unexpected match")
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}
