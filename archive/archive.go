// Package archive keeps a SQLite log of every processed alert and what the
// pipeline decided about it, for later review of lockouts and learning.
package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"alertcore/config"
	"alertcore/pipeline"
	"alertcore/sqliteutil"

	_ "modernc.org/sqlite"
)

// Writer persists outcomes to SQLite asynchronously with a retention window.
// The consumer never blocks on it: a full queue drops the entry and counts it.
type Writer struct {
	cfg     config.ArchiveConfig
	db      *sql.DB
	queue   chan Entry
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	written atomic.Uint64
	now     func() time.Time
}

// Entry is one archived decision.
type Entry struct {
	Time         time.Time
	Band         string
	FrequencyMHz float64
	Front        int
	Rear         int
	Bars         int
	Direction    string
	Priority     bool
	HasFix       bool
	Lat          float64
	Lon          float64
	Heading      float64
	Day          string
	Decision     string
	ClusterID    uint64
	ClusterState string
	Days         int
	Muted        bool
	LockoutID    uint64
	Error        string
}

// EntryFromOutcome flattens a pipeline outcome into an archive row.
func EntryFromOutcome(o pipeline.Outcome) Entry {
	a := o.Alert
	e := Entry{
		Time:         a.Timestamp.UTC(),
		Band:         a.Band.String(),
		FrequencyMHz: a.FrequencyMHz,
		Front:        int(a.Front),
		Rear:         int(a.Rear),
		Bars:         a.Bars(),
		Direction:    a.Direction.String(),
		Priority:     a.Priority,
		HasFix:       o.HasFix,
		Day:          o.Day.String(),
		Decision:     o.Decision.Kind.String(),
		ClusterID:    o.Decision.ClusterID,
		Days:         o.Decision.Days,
		Muted:        o.Mute.Muted,
	}
	if o.HasFix {
		e.Lat, e.Lon, e.Heading = o.Fix.Lat, o.Fix.Lon, o.Fix.Heading
	}
	if o.Decision.ClusterID != 0 {
		e.ClusterState = o.Decision.State.String()
	}
	if o.Mute.Record != nil {
		e.LockoutID = o.Mute.Record.ID
	}
	if o.Decision.Err != nil {
		e.Error = o.Decision.Err.Error()
	}
	return e
}

// NewWriter preflights and opens the database; call Start to begin processing.
func NewWriter(cfg config.ArchiveConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	if _, err := sqliteutil.Preflight(cfg.DBPath, "archive", 2*time.Second, nil); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	syncMode := cfg.Synchronous
	if syncMode == "" {
		syncMode = "off"
	}
	pragmas := fmt.Sprintf("pragma journal_mode=WAL; pragma synchronous=%s; pragma busy_timeout=%d", syncMode, cfg.BusyTimeoutMS)
	if _, err := db.Exec(pragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchIntervalMS <= 0 {
		cfg.BatchIntervalMS = 500
	}
	return &Writer{
		cfg:   cfg,
		db:    db,
		queue: make(chan Entry, qsize),
		stop:  make(chan struct{}),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the insert and cleanup loops.
func (w *Writer) Start() {
	w.wg.Add(2)
	go w.insertLoop()
	go w.cleanupLoop()
}

// Stop flushes queued entries and closes the database.
func (w *Writer) Stop() {
	close(w.stop)
	w.wg.Wait()
	_ = w.db.Close()
}

// Record implements pipeline.Recorder.
func (w *Writer) Record(o pipeline.Outcome) {
	w.Enqueue(EntryFromOutcome(o))
}

// Enqueue queues an entry without blocking; drops on a full queue.
func (w *Writer) Enqueue(e Entry) {
	if w == nil {
		return
	}
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Written returns how many entries were committed.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

func (w *Writer) insertLoop() {
	defer w.wg.Done()
	interval := time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond
	batch := make([]Entry, 0, w.cfg.BatchSize)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
				default:
					w.flush(batch)
					return
				}
			}
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(interval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(interval)
		}
	}
}

func (w *Writer) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("Archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into decisions(ts, band, freq_mhz, front, rear, bars, direction, priority,
		has_fix, lat, lon, heading, day, decision, cluster_id, cluster_state, days, muted, lockout_id, error)
		values(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("Archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	n := 0
	for _, e := range batch {
		if _, err := stmt.Exec(
			e.Time.UnixMilli(),
			e.Band,
			e.FrequencyMHz,
			e.Front,
			e.Rear,
			e.Bars,
			e.Direction,
			boolToInt(e.Priority),
			boolToInt(e.HasFix),
			e.Lat,
			e.Lon,
			e.Heading,
			e.Day,
			e.Decision,
			int64(e.ClusterID),
			e.ClusterState,
			e.Days,
			boolToInt(e.Muted),
			int64(e.LockoutID),
			e.Error,
		); err != nil {
			log.Printf("Archive: insert failed: %v", err)
			continue
		}
		n++
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("Archive: commit: %v", err)
		return
	}
	w.written.Add(uint64(n))
}

func (w *Writer) cleanupLoop() {
	defer w.wg.Done()
	interval := time.Duration(w.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.cleanupOnce(w.now()); err != nil {
				log.Printf("Archive: cleanup: %v", err)
			}
		}
	}
}

// cleanupOnce deletes rows older than the retention window and returns how
// many were removed.
func (w *Writer) cleanupOnce(now time.Time) (int64, error) {
	days := w.cfg.RetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	res, err := w.db.Exec(`delete from decisions where ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ensureSchema(db *sql.DB) error {
	schema := `
	create table if not exists decisions (
		id integer primary key autoincrement,
		ts integer not null,
		band text,
		freq_mhz real,
		front integer,
		rear integer,
		bars integer,
		direction text,
		priority integer,
		has_fix integer,
		lat real,
		lon real,
		heading real,
		day text,
		decision text,
		cluster_id integer,
		cluster_state text,
		days integer,
		muted integer,
		lockout_id integer,
		error text
	);
	create index if not exists idx_decisions_ts on decisions(ts);
	create index if not exists idx_decisions_cluster on decisions(cluster_id, ts);
	create index if not exists idx_decisions_lockout on decisions(lockout_id, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recent returns the most recent entries, newest first.
func (w *Writer) Recent(limit int) ([]Entry, error) {
	return w.query(`select ts, band, freq_mhz, front, rear, bars, direction, priority, has_fix, lat, lon, heading,
		day, decision, cluster_id, cluster_state, days, muted, lockout_id, error
		from decisions order by ts desc, id desc limit ?`, limit)
}

// ForLockout returns the most recent entries muted by one lockout record.
func (w *Writer) ForLockout(id uint64, limit int) ([]Entry, error) {
	return w.query(`select ts, band, freq_mhz, front, rear, bars, direction, priority, has_fix, lat, lon, heading,
		day, decision, cluster_id, cluster_state, days, muted, lockout_id, error
		from decisions where lockout_id = ? order by ts desc, id desc limit ?`, int64(id), limit)
}

func (w *Writer) query(q string, args ...any) ([]Entry, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("archive: writer is nil")
	}
	if limit, ok := args[len(args)-1].(int); ok && limit <= 0 {
		return []Entry{}, nil
	}
	rows, err := w.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var (
			e         Entry
			ts        int64
			priority  int
			hasFix    int
			muted     int
			clusterID int64
			lockoutID int64
		)
		if err := rows.Scan(&ts, &e.Band, &e.FrequencyMHz, &e.Front, &e.Rear, &e.Bars, &e.Direction, &priority,
			&hasFix, &e.Lat, &e.Lon, &e.Heading, &e.Day, &e.Decision, &clusterID, &e.ClusterState, &e.Days,
			&muted, &lockoutID, &e.Error); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		e.Time = time.UnixMilli(ts).UTC()
		e.Priority = priority > 0
		e.HasFix = hasFix > 0
		e.Muted = muted > 0
		e.ClusterID = uint64(clusterID)
		e.LockoutID = uint64(lockoutID)
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate: %w", err)
	}
	return results, nil
}
