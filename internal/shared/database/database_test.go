package database

import (
	"path/filepath"
	"slices"
	"testing"
	"testing/fstest"
)

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE ping_check (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("Expected writable database, got %v", err)
	}

	var mode string
	if err := db.Get(&mode, `PRAGMA journal_mode`); err != nil {
		t.Fatalf("PRAGMA failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected wal journal mode, got %s", mode)
	}
}

func TestOpenSQLiteMemory(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()

	var one int
	if err := db.Get(&one, `SELECT 1`); err != nil || one != 1 {
		t.Errorf("Expected SELECT 1 to return 1, got %d (%v)", one, err)
	}
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_indexes.sql":     {Data: []byte("--")},
		"migrations/001_report_runs.sql": {Data: []byte("--")},
		"migrations/README.md":           {Data: []byte("notes")},
	}

	tests := []struct {
		name     string
		applied  []string
		expected []string
	}{
		{"fresh database", nil, []string{"001_report_runs.sql", "002_indexes.sql"}},
		{"partly applied", []string{"001_report_runs"}, []string{"002_indexes.sql"}},
		{"up to date", []string{"001_report_runs", "002_indexes"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := pending(fsys, tt.applied)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !slices.Equal(files, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, files)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := pending(migrationsFS, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(files) == 0 || files[0] != "001_report_runs.sql" {
		t.Errorf("Expected 001_report_runs.sql first, got %v", files)
	}
}
