// Package sqliteutil holds SQLite helpers shared by the archive and tools.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PreflightResult reports the outcome of a SQLite preflight check.
type PreflightResult struct {
	Healthy         bool   // No issues detected; safe to proceed.
	Quarantined     bool   // The database was renamed aside so startup can continue.
	QuarantinePath  string // Path of the quarantined main file.
	Elapsed         time.Duration
	CheckpointError error
	CheckError      error
}

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// Preflight runs a bounded WAL checkpoint and quick_check against path before
// the real open. A database that fails either step is renamed (with its
// sidecars) to path.bad-<timestamp> and the caller starts from a fresh file.
// A missing database is healthy.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	var res PreflightResult
	if strings.TrimSpace(path) == "" {
		return res, errors.New("sqliteutil: preflight: empty path")
	}
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.Healthy = true
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("sqliteutil: preflight: ensure dir: %w", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("sqliteutil: preflight: open %s db: %w", role, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		_ = db.Close()
		return res, fmt.Errorf("sqliteutil: preflight: busy_timeout %s: %w", role, err)
	}
	_, res.CheckpointError = db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	res.CheckError = quickCheck(ctx, db)
	_ = db.Close()
	res.Elapsed = time.Since(start)

	if res.CheckpointError == nil && res.CheckError == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("sqliteutil: preflight: %s db timed out after %s", role, timeout)
	}

	dest, err := Quarantine(path, time.Now().UTC())
	if err != nil {
		return res, fmt.Errorf("sqliteutil: preflight: quarantine %s db: %w (checkpoint=%v, quick_check=%v)",
			role, err, res.CheckpointError, res.CheckError)
	}
	res.Quarantined = true
	res.QuarantinePath = dest
	cause := res.CheckError
	if res.CheckpointError != nil {
		cause = res.CheckpointError
	}
	logf("SQLite: %s db failed preflight (%v); moved to %s after %s", role, cause, dest, res.Elapsed)
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// Quarantine renames path and any sidecar files to <name>.bad-<ts> and returns
// the new main file path.
func Quarantine(path string, now time.Time) (string, error) {
	suffix := ".bad-" + now.Format("20060102T150405Z")
	for _, p := range append([]string{path}, sidecars(path)...) {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := os.Rename(p, p+suffix); err != nil {
			return "", err
		}
	}
	return path + suffix, nil
}

func sidecars(path string) []string {
	out := make([]string, 0, len(sidecarSuffixes))
	for _, s := range sidecarSuffixes {
		out = append(out, path+s)
	}
	return out
}
