package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
)

func migrationsFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestLoadMigrations(t *testing.T) {
	fsys := migrationsFS(map[string]string{
		"001_accounts.sql":    "CREATE TABLE accounts (id BIGSERIAL PRIMARY KEY);",
		"002_roles.sql":       "CREATE TABLE account_roles (account_id BIGINT);",
		"003_login_audit.sql": "ALTER TABLE accounts ADD COLUMN last_login_at TIMESTAMPTZ;",
	})

	migrator := NewMigrator(nil, fsys, zerolog.Nop())
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_accounts.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE accounts (id BIGSERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 || migrations[2].Version != 3 {
		t.Errorf("unexpected order: %d, %d", migrations[1].Version, migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := migrationsFS(map[string]string{
		"010_late.sql":  "SELECT 10;",
		"002_mid.sql":   "SELECT 2;",
		"001_first.sql": "SELECT 1;",
	})

	migrations, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsUnrelatedFiles(t *testing.T) {
	fsys := migrationsFS(map[string]string{
		"001_accounts.sql": "SELECT 1;",
		"README.md":        "docs",
		"noprefix.sql":     "SELECT 0;",
		"abc_bad.sql":      "SELECT 0;",
		"embed.go":         "package migrations",
	})

	migrations, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := migrationsFS(map[string]string{
		"001_accounts.sql": "SELECT 1;",
		"1_again.sql":      "SELECT 1;",
	})

	if _, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations(); err == nil {
		t.Error("expected error for duplicated version")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_accounts.sql"},
		{Version: 2, Name: "002_roles.sql"},
		{Version: 3, Name: "003_login_audit.sql"},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migrations, applied)
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("unexpected pending set: %+v", pending)
	}

	statuses := BuildStatus(migrations, applied)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Error("expected migration 002 to be pending")
	}
}

func TestValidateSchema(t *testing.T) {
	valid := []string{"public", "auth", "auth_v2", "_private"}
	for _, s := range valid {
		if err := ValidateSchema(s); err != nil {
			t.Errorf("ValidateSchema(%q) unexpected error: %v", s, err)
		}
	}
	invalid := []string{"", "1auth", "auth-v2", "auth; DROP TABLE accounts", "a.b"}
	for _, s := range invalid {
		if err := ValidateSchema(s); err == nil {
			t.Errorf("ValidateSchema(%q) expected error", s)
		}
	}
}
