package lockoutdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
)

// IntegrityStats reports the outcome of a full key/value scan.
type IntegrityStats struct {
	Records  int64
	Clusters int64
	Corrupt  int64
	Duration time.Duration
}

// Purpose: Create a Pebble checkpoint on disk with a flushed WAL.
// Key aspects: Requires a non-empty destination path.
// Upstream: lockoutctl backup.
// Downstream: Pebble DB.Checkpoint.
func (s *Store) Checkpoint(dest string) error {
	if s == nil || s.db == nil {
		return errors.New("lockoutdb: store is not initialized")
	}
	if strings.TrimSpace(dest) == "" {
		return errors.New("lockoutdb: checkpoint destination is empty")
	}
	if err := s.db.Checkpoint(dest, pebble.WithFlushedWAL()); err != nil {
		return fmt.Errorf("lockoutdb: checkpoint %s: %w", dest, err)
	}
	return nil
}

// Purpose: Verify a checkpoint by opening it read-only and scanning entries.
// Key aspects: Honors context cancellation and maxDuration for bounded scans.
// Upstream: lockoutctl verify.
// Downstream: Pebble iterator and decoders.
func VerifyCheckpoint(ctx context.Context, path string, maxDuration time.Duration) (IntegrityStats, error) {
	if strings.TrimSpace(path) == "" {
		return IntegrityStats{}, errors.New("lockoutdb: checkpoint path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return IntegrityStats{}, fmt.Errorf("lockoutdb: checkpoint stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return IntegrityStats{}, fmt.Errorf("lockoutdb: checkpoint %s is not a directory", path)
	}
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		return IntegrityStats{}, fmt.Errorf("lockoutdb: checkpoint open %s: %w", path, err)
	}
	defer db.Close()
	stats, err := verifyDB(ctx, db, maxDuration)
	if err != nil {
		return stats, fmt.Errorf("lockoutdb: checkpoint verify %s: %w", path, err)
	}
	return stats, nil
}

// Purpose: Verify the active store via a bounded full scan.
// Key aspects: Counts undecodable entries instead of failing on the first one.
// Upstream: main.go startup, lockoutctl verify.
// Downstream: Pebble iterator and decoders.
func (s *Store) Verify(ctx context.Context, maxDuration time.Duration) (IntegrityStats, error) {
	if s == nil || s.db == nil {
		return IntegrityStats{}, errors.New("lockoutdb: store is not initialized")
	}
	return verifyDB(ctx, s.db, maxDuration)
}

func verifyDB(ctx context.Context, db *pebble.DB, maxDuration time.Duration) (IntegrityStats, error) {
	start := time.Now()
	deadline := time.Time{}
	if maxDuration > 0 {
		deadline = start.Add(maxDuration)
	}
	stats := IntegrityStats{}
	check := func(prefix string, decode func([]byte) error, count *int64) error {
		iter, err := db.NewIter(iterOptionsForPrefix(prefix))
		if err != nil {
			return fmt.Errorf("lockoutdb: verify iterator: %w", err)
		}
		defer iter.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			if ctx != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return errors.New("lockoutdb: integrity scan timed out")
			}
			if _, ok := parseIDKey(prefix, iter.Key()); !ok || decode(iter.Value()) != nil {
				stats.Corrupt++
				continue
			}
			*count++
		}
		if err := iter.Error(); err != nil {
			return fmt.Errorf("lockoutdb: verify iterate: %w", err)
		}
		return nil
	}
	if err := check(recordPrefix, func(b []byte) error { _, err := decodeRecord(b); return err }, &stats.Records); err != nil {
		return stats, err
	}
	if err := check(clusterPrefix, func(b []byte) error { _, err := decodeCluster(b); return err }, &stats.Clusters); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}
