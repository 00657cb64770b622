package sqliteutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestPreflightHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec("create table t (id integer)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	res, err := Preflight(path, "archive", time.Second, nil)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if !res.Healthy || res.Quarantined {
		t.Fatalf("expected healthy preflight, got %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db to remain, stat failed: %v", err)
	}
}

func TestPreflightMissingIsHealthy(t *testing.T) {
	res, err := Preflight(filepath.Join(t.TempDir(), "absent.db"), "archive", time.Second, nil)
	if err != nil || !res.Healthy {
		t.Fatalf("expected missing db to be healthy, got %+v err=%v", res, err)
	}
}

func TestPreflightQuarantinesCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(path, []byte("not a sqlite database, just some bytes that fill a header"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := os.WriteFile(path+"-journal", []byte("sidecar"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	var logged []string
	res, err := Preflight(path, "archive", time.Second, func(format string, args ...any) {
		logged = append(logged, format)
	})
	if err != nil {
		t.Fatalf("preflight expected quarantine, got error: %v", err)
	}
	if res.Healthy || !res.Quarantined {
		t.Fatalf("expected quarantine, got %+v", res)
	}
	if !strings.Contains(res.QuarantinePath, ".bad-") {
		t.Fatalf("quarantine path not suffixed as expected: %s", res.QuarantinePath)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original db to be renamed, stat err=%v", err)
	}
	if _, err := os.Stat(path + "-journal"); !os.IsNotExist(err) {
		t.Fatalf("expected journal sidecar to move with the db, stat err=%v", err)
	}
	if len(logged) != 1 {
		t.Fatalf("expected one log line, got %d", len(logged))
	}
}

func TestQuarantineSkipsMissingSidecars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	dest, err := Quarantine(path, now)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if dest != path+".bad-20250701T100000Z" {
		t.Fatalf("unexpected destination %s", dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected quarantined file: %v", err)
	}
}
